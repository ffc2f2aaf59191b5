package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Advert is the part of a ble.Advertisement the transport consumes.
type Advert struct {
	Addr string
	Name string
	RSSI int
}

// GATTClient is the subset of ble.Client used by the transport.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Central is the subset of ble.Device used by the transport.
type Central interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advert)) error
	Dial(ctx context.Context, address string) (GATTClient, error)
}

// bleCentral adapts a ble.Device to Central
type bleCentral struct {
	dev ble.Device
}

func (c *bleCentral) Scan(ctx context.Context, allowDup bool, handler func(Advert)) error {
	return c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		a := Advert{Name: adv.LocalName(), RSSI: adv.RSSI()}
		if addr := adv.Addr(); addr != nil {
			a.Addr = addr.String()
		}
		handler(a)
	})
}

func (c *bleCentral) Dial(ctx context.Context, address string) (GATTClient, error) {
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DeviceFactory creates the Central used by a Transport (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (Central, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleCentral{dev: dev}, nil
}
