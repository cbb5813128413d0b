// Package fifo carries USB transfers between processes over a byte stream,
// so a host stack in one process can drive an emulated device in another.
//
// The device side runs [Serve] over any connection with a value
// implementing [hal.Transport] and [hal.ControlTransferer], typically a
// msctarget.Target backed by a disk image. The host side wraps the other
// end of the connection in a [Host], which implements the same interfaces
// plus [hal.Claimer] and [hal.HaltClearer] and can stand in for a usbfs
// device.
//
// On Unix systems a bus directory of named pipes provides the connection:
//
//	/tmp/usb-bus/
//	└── device-1d6b-0104-4f2a/
//	    ├── host_to_device    # requests
//	    └── device_to_host    # responses
//
// [Listen] creates a device directory and [Dial] connects to one.
//
// # Protocol
//
// Every message is framed as
//
//	[1 byte: message type][4 bytes: length, little-endian][N bytes: payload]
//
// The host sends one request and reads exactly one response before sending
// the next. Requests carry the remaining transfer timeout in milliseconds;
// the device side enforces it and reports expiry as an error response.
//
// Request types:
//   - 0x01: control transfer (setup packet, timeout, OUT data)
//   - 0x02: bulk transfer (endpoint, timeout, length, OUT data)
//   - 0x03: clear halt (endpoint)
//   - 0x04: claim interface (config, interface, alt setting)
//   - 0x05: release interface
//
// Response types:
//   - 0x80: IN data
//   - 0x81: OUT byte count
//   - 0x82: error (code, message)
package fifo
