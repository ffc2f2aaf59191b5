package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/testutils"
	"github.com/srg/xdot/scanner"
)

type ScannerTestSuite struct {
	suitelib.Suite
	helper    *testutils.TestHelper
	transport *testutils.MockTransport

	dot1, dot2, other device.DeviceHandle
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.transport = testutils.NewMockTransport()

	suite.dot1 = device.DeviceHandle{Address: "D4:22:CD:00:00:01", Name: "Xsens DOT", RSSI: -70}
	suite.dot2 = device.DeviceHandle{Address: "D4:22:CD:00:00:02", Name: "Movella DOT", RSSI: -45}
	suite.other = device.DeviceHandle{Address: "11:22:33:44:55:66", Name: "Heart Rate", RSSI: -30}
}

func (suite *ScannerTestSuite) newScanner() *scanner.Scanner {
	s, err := scanner.NewScanner(suite.transport, suite.helper.Logger)
	suite.Require().NoError(err)
	return s
}

func (suite *ScannerTestSuite) TestNewScanner() {
	suite.Run("creates scanner with nil logger", func() {
		s, err := scanner.NewScanner(suite.transport, nil)
		suite.NoError(err)
		suite.NotNil(s)
	})

	suite.Run("rejects missing transport", func() {
		_, err := scanner.NewScanner(nil, nil)
		suite.Error(err)
	})
}

func (suite *ScannerTestSuite) TestScan_DefaultOptionsKeepOnlyDOTs() {
	// GOAL: Verify the default name filter keeps both DOT brandings and drops other devices
	//
	// TEST SCENARIO: Two DOTs and a heart rate strap advertise -> two results, strongest first

	suite.transport.ExpectScan(suite.dot1, suite.other, suite.dot2)

	var phases []string
	opts := scanner.DefaultScanOptions()
	opts.Duration = 30 * time.Millisecond

	devices, err := suite.newScanner().Scan(context.Background(), opts, func(phase string) {
		phases = append(phases, phase)
	})

	suite.Require().NoError(err)
	suite.Equal([]device.DeviceHandle{suite.dot2, suite.dot1}, devices, "results MUST be sorted by signal strength")
	suite.Equal([]string{"Scanning", "Processing results"}, phases)
}

func (suite *ScannerTestSuite) TestScan_AllowAndBlockLists() {
	suite.Run("allow list", func() {
		suite.transport = testutils.NewMockTransport()
		suite.transport.ExpectScan(suite.dot1, suite.dot2, suite.other)

		devices, err := suite.newScanner().Scan(context.Background(), &scanner.ScanOptions{
			Duration:  20 * time.Millisecond,
			AllowList: []string{"d4-22-cd-00-00-01"},
		}, nil)
		suite.Require().NoError(err)
		suite.Equal([]device.DeviceHandle{suite.dot1}, devices)
	})

	suite.Run("block list without name filter", func() {
		suite.transport = testutils.NewMockTransport()
		suite.transport.ExpectScan(suite.dot1, suite.dot2, suite.other)

		devices, err := suite.newScanner().Scan(context.Background(), &scanner.ScanOptions{
			Duration:  20 * time.Millisecond,
			BlockList: []string{suite.dot2.Address},
		}, nil)
		suite.Require().NoError(err)
		suite.Equal([]device.DeviceHandle{suite.other, suite.dot1}, devices)
	})
}

func (suite *ScannerTestSuite) TestScan_EventsAcrossScans() {
	// GOAL: Verify a device seen again by the same scanner is reported as updated
	//
	// TEST SCENARIO: Two scans see dot1 -> EventNew then EventUpdated

	suite.transport.ExpectScan(suite.dot1)
	s := suite.newScanner()
	opts := &scanner.ScanOptions{Duration: 20 * time.Millisecond}

	_, err := s.Scan(context.Background(), opts, nil)
	suite.Require().NoError(err)
	_, err = s.Scan(context.Background(), opts, nil)
	suite.Require().NoError(err)

	var events []scanner.DeviceEvent
	for len(events) < 2 {
		select {
		case ev := <-s.Events():
			events = append(events, ev)
		case <-time.After(time.Second):
			suite.FailNow("expected two device events")
		}
	}
	suite.Equal(scanner.EventNew, events[0].Type)
	suite.Equal(scanner.EventUpdated, events[1].Type)
	suite.Equal("updated", events[1].Type.String())
	suite.Equal([]device.DeviceHandle{suite.dot1}, s.Devices())
}

func (suite *ScannerTestSuite) TestScan_TransportError() {
	suite.transport.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(device.ErrBluetoothOff)

	_, err := suite.newScanner().Scan(context.Background(), nil, nil)
	suite.ErrorIs(err, device.ErrBluetoothOff)
	suite.True(errors.Is(err, device.ErrBluetoothOff))
}

func (suite *ScannerTestSuite) TestScan_CallerCancellation() {
	suite.transport.ExpectScan(suite.dot1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	devices, err := suite.newScanner().Scan(ctx, &scanner.ScanOptions{}, nil)
	suite.NoError(err, "cancellation ends the scan, it is not a failure")
	suite.Len(devices, 1)
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
