package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "worker-42", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_NilParent(t *testing.T) {
	done := make(chan struct{})
	//nolint:staticcheck // nil parent context is part of the contract
	Go(nil, "nil-parent", func(ctx context.Context) {
		assert.NotNil(t, ctx)
		close(done)
	})
	<-done
}

func TestGoSafe_RecoversPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()
	done := make(chan struct{})

	GoSafe(context.Background(), "panicky", logger, func(context.Context) {
		defer close(done)
		panic("boom")
	})
	<-done

	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, time.Second, 5*time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "panicky", entry.Data["goroutine"])
	assert.Equal(t, "boom", entry.Data["panic"])
}

func TestGetName_Empty(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck // nil context is tolerated
	assert.Empty(t, GetName(nil))
}
