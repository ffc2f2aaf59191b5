//go:build !darwin

package main

const (
	exampleDeviceAddress = "D4:22:CD:00:11:22"
	deviceAddressNote    = "Device address format: MAC address, colons optional\n  Examples: D4:22:CD:00:11:22 or d422cd001122\n  Use 'xdot scan' to discover sensors, or set 'address' in the config file"
)
