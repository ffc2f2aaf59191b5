package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/testutils"
)

// mockClient is a testify mock of GATTClient that also exposes a Disconnected channel,
// like the go-ble clients do.
type mockClient struct {
	mock.Mock
	disconnected chan struct{}

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
}

func newMockClient() *mockClient {
	return &mockClient{
		disconnected: make(chan struct{}),
		handlers:     make(map[string]ble.NotificationHandler),
	}
}

func (c *mockClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := c.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (c *mockClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	args := c.Called(ch.UUID.String())
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (c *mockClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	return c.Called(ch.UUID.String(), value, noRsp).Error(0)
}

func (c *mockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := c.Called(d.UUID.String())
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (c *mockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return c.Called(d.UUID.String(), value).Error(0)
}

func (c *mockClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	err := c.Called(ch.UUID.String(), ind).Error(0)
	if err == nil {
		c.mu.Lock()
		c.handlers[ch.UUID.String()] = h
		c.mu.Unlock()
	}
	return err
}

func (c *mockClient) Unsubscribe(ch *ble.Characteristic, ind bool) error {
	return c.Called(ch.UUID.String(), ind).Error(0)
}

func (c *mockClient) CancelConnection() error {
	return c.Called().Error(0)
}

func (c *mockClient) notify(uuid string, data []byte) {
	c.mu.Lock()
	h := c.handlers[uuid]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// fakeCentral replays a fixed set of advertisements and dials a single client.
type fakeCentral struct {
	adverts []Advert
	scanErr error
	client  GATTClient
	dialErr error

	mu     sync.Mutex
	dialed []string
}

func (f *fakeCentral) Scan(_ context.Context, _ bool, handler func(Advert)) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	for _, a := range f.adverts {
		handler(a)
	}
	return nil
}

func (f *fakeCentral) Dial(_ context.Context, address string) (GATTClient, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, address)
	f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.client, nil
}

// uuidKey is how the mock client identifies attributes: go-ble's own UUID rendering.
func uuidKey(s string) string {
	return ble.MustParse(s).String()
}

type TransportTestSuite struct {
	suite.Suite
	logger        *logrus.Logger
	client        *mockClient
	central       *fakeCentral
	originalMaker func() (Central, error)
	transport     *Transport
	handle        device.DeviceHandle
}

func (s *TransportTestSuite) SetupTest() {
	s.logger, _ = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)

	s.client = newMockClient()
	s.central = &fakeCentral{client: s.client}
	s.originalMaker = DeviceFactory
	DeviceFactory = func() (Central, error) { return s.central, nil }

	s.transport = NewTransport(s.logger)
	s.handle = device.DeviceHandle{Address: "D4:22:CD:00:11:22", Name: "Xsens DOT"}
}

func (s *TransportTestSuite) TearDownTest() {
	DeviceFactory = s.originalMaker
}

func (s *TransportTestSuite) connect() device.ConnectionToken {
	s.client.On("DiscoverProfile", true).Return(testutils.DOTProfile(true), nil).Once()
	token, err := s.transport.Connect(context.Background(), s.handle)
	s.Require().NoError(err)
	return token
}

func (s *TransportTestSuite) TestScan_FiltersAndDeduplicates() {
	// GOAL: Verify scan reports each accepted device exactly once
	//
	// TEST SCENARIO: Repeated adverts of one DOT and one foreign device, filter on name -> one report

	s.central.adverts = []Advert{
		{Addr: "d4:22:cd:00:11:22", Name: "Xsens DOT", RSSI: -60},
		{Addr: "aa:bb:cc:dd:ee:ff", Name: "Headphones", RSSI: -40},
		{Addr: "D4:22:CD:00:11:22", Name: "Xsens DOT", RSSI: -58},
	}

	var got []device.DeviceHandle
	err := s.transport.Scan(context.Background(),
		func(h device.DeviceHandle) bool { return h.Name == "Xsens DOT" },
		func(h device.DeviceHandle) { got = append(got, h) })

	s.Require().NoError(err)
	s.Require().Len(got, 1, "duplicate advertisements MUST be collapsed")
	s.Equal(-60, got[0].RSSI)
}

func (s *TransportTestSuite) TestScan_NormalizesErrors() {
	s.central.scanErr = errors.New("can't init hci: no such device")

	err := s.transport.Scan(context.Background(), nil, func(device.DeviceHandle) {})
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *TransportTestSuite) TestFactoryError() {
	DeviceFactory = func() (Central, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	_, err := s.transport.Connect(context.Background(), s.handle)
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *TransportTestSuite) TestConnect_DialError() {
	s.central.dialErr = errors.New("connection timed out")

	_, err := s.transport.Connect(context.Background(), s.handle)
	s.ErrorIs(err, device.ErrTimeout)
	s.Contains(err.Error(), s.handle.Address)
}

func (s *TransportTestSuite) TestConnect_IncompleteProfile() {
	// GOAL: Verify a device without the measurement characteristics is rejected and released
	//
	// TEST SCENARIO: Profile lacks the short payload characteristic -> NotFoundError, connection cancelled

	profile := &ble.Profile{Services: []*ble.Service{{
		UUID:            ble.MustParse(device.MeasurementServiceUUID),
		Characteristics: []*ble.Characteristic{{UUID: ble.MustParse(device.MeasurementControlUUID)}},
	}}}
	s.client.On("DiscoverProfile", true).Return(profile, nil)
	s.client.On("CancelConnection").Return(nil)

	_, err := s.transport.Connect(context.Background(), s.handle)

	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("characteristic", nf.Resource)
	s.Contains(nf.UUIDs, device.ShortPayloadUUID)
	s.client.AssertCalled(s.T(), "CancelConnection")
}

func (s *TransportTestSuite) TestReadWrite() {
	// GOAL: Verify reads and writes reach the resolved attributes with the right acknowledgement mode
	//
	// TEST SCENARIO: Read battery, acked control write, unacked control write, CCCD write and read

	token := s.connect()

	s.client.On("ReadCharacteristic", uuidKey(device.BatteryUUID)).Return([]byte{90, 0}, nil)
	data, err := s.transport.ReadCharacteristic(token, device.Battery)
	s.Require().NoError(err)
	s.Equal([]byte{90, 0}, data)

	s.client.On("WriteCharacteristic", uuidKey(device.MeasurementControlUUID), []byte{1, 1, 6}, false).Return(nil)
	s.Require().NoError(s.transport.WriteCharacteristic(token, device.MeasurementControl, []byte{1, 1, 6}, true))

	s.client.On("WriteCharacteristic", uuidKey(device.MeasurementControlUUID), []byte{1, 0, 6}, true).Return(nil)
	s.Require().NoError(s.transport.WriteCharacteristic(token, device.MeasurementControl, []byte{1, 0, 6}, false))

	s.client.On("WriteDescriptor", ble.ClientCharacteristicConfigUUID.String(), device.CCCDEnableNotify).Return(nil)
	s.Require().NoError(s.transport.WriteCharacteristic(token, device.NotificationDescriptor, device.CCCDEnableNotify, true))

	s.client.On("ReadDescriptor", ble.ClientCharacteristicConfigUUID.String()).Return([]byte{1, 0}, nil)
	data, err = s.transport.ReadCharacteristic(token, device.NotificationDescriptor)
	s.Require().NoError(err)
	s.Equal([]byte{1, 0}, data)

	s.client.AssertExpectations(s.T())
}

func (s *TransportTestSuite) TestRead_MissingOptionalCharacteristic() {
	s.client.On("DiscoverProfile", true).Return(testutils.DOTProfile(false), nil)
	token, err := s.transport.Connect(context.Background(), s.handle)
	s.Require().NoError(err)

	_, err = s.transport.ReadCharacteristic(token, device.Battery)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *TransportTestSuite) TestWrite_Error() {
	token := s.connect()
	s.client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("device not connected"))

	err := s.transport.WriteCharacteristic(token, device.MeasurementControl, []byte{1, 1, 6}, true)
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *TransportTestSuite) TestSubscribe() {
	// GOAL: Verify notifications flow to the callback and unsubscribe reaches the stack once
	//
	// TEST SCENARIO: Subscribe short payload, emit a frame, unsubscribe twice

	token := s.connect()
	key := uuidKey(device.ShortPayloadUUID)
	s.client.On("Subscribe", key, false).Return(nil)
	s.client.On("Unsubscribe", key, false).Return(nil)

	var got [][]byte
	handle, err := s.transport.SubscribeNotify(token, device.ShortPayload, func(b []byte) { got = append(got, b) })
	s.Require().NoError(err)
	s.Equal(device.ShortPayload, handle.Characteristic())

	s.client.notify(key, []byte{0xd8, 0x05})
	s.Equal([][]byte{{0xd8, 0x05}}, got)

	s.NoError(s.transport.UnsubscribeNotify(handle))
	s.NoError(s.transport.UnsubscribeNotify(handle))
	s.client.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
}

func (s *TransportTestSuite) TestSubscribe_NotNotifiable() {
	token := s.connect()

	_, err := s.transport.SubscribeNotify(token, device.MeasurementControl, func([]byte) {})
	s.ErrorIs(err, device.ErrNotNotify)
	s.client.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything)
}

func (s *TransportTestSuite) TestDisconnect() {
	// GOAL: Verify disconnect closes the token once and later operations are rejected
	//
	// TEST SCENARIO: Disconnect twice, then read -> one CancelConnection, ErrNotConnected

	token := s.connect()
	s.client.On("CancelConnection").Return(nil)

	s.NoError(s.transport.Disconnect(token))
	s.NoError(s.transport.Disconnect(token))
	s.client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)

	select {
	case <-token.Disconnected():
	default:
		s.Fail("token MUST report disconnection")
	}

	_, err := s.transport.ReadCharacteristic(token, device.Battery)
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *TransportTestSuite) TestLinkDropIsObserved() {
	token := s.connect()

	close(s.client.disconnected)

	select {
	case <-token.Disconnected():
	case <-time.After(time.Second):
		s.Fail("stack disconnection MUST close the token")
	}
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func TestNormalizeError(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"bluetooth is turned off", device.ErrBluetoothOff},
		{"can't init hci", device.ErrBluetoothOff},
		{"device not connected", device.ErrNotConnected},
		{"peripheral disconnected", device.ErrNotConnected},
		{"device already connected", device.ErrAlreadyConnected},
		{"operation timed out", device.ErrTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			err := NormalizeError(errors.New(tc.msg))
			if !errors.Is(err, tc.want) {
				t.Fatalf("NormalizeError(%q) = %v, want %v", tc.msg, err, tc.want)
			}
		})
	}

	if NormalizeError(nil) != nil {
		t.Fatal("nil MUST stay nil")
	}
	if err := NormalizeError(context.Canceled); err != context.Canceled {
		t.Fatalf("context errors MUST pass through, got %v", err)
	}
	plain := errors.New("att: invalid handle")
	if err := NormalizeError(plain); err != plain {
		t.Fatalf("unknown errors MUST pass through, got %v", err)
	}
}
