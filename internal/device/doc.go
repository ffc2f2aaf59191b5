// Package device describes the DOT sensor's GATT profile and the transport contract
// the session layer drives.
//
// It contains:
//   - The characteristic identifiers and their UUIDs, properties and services
//   - Device handles and address normalization
//   - The Transport interface implemented by BLE backends (see the go-ble subpackage)
//   - Connection error kinds shared by every backend
package device
