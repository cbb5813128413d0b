package hal

import (
	"context"
	"encoding/binary"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
	SpeedSuper                // SuperSpeed (5 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "SuperSpeed"
	default:
		return "Unknown"
	}
}

// SetupPacket represents a USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:])
	out.Index = binary.LittleEndian.Uint16(data[4:])
	out.Length = binary.LittleEndian.Uint16(data[6:])
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// IsIn reports whether the data stage moves from device to host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants.
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns the transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Transport is the physical bulk pipe beneath a duplex channel.
//
// BulkTransfer moves data to or from the endpoint with the given address;
// bit 7 of endpoint selects the direction (set for IN). For IN endpoints,
// data is filled with received data. For OUT endpoints, data contains the
// data to send. Returns the number of bytes transferred.
//
// Implementations must honor the context deadline and report expiry as
// pkg.ErrTimeout, a halted endpoint as pkg.ErrStall, and a vanished device
// as pkg.ErrNoDevice. A caller that gives up at the deadline abandons the
// call: an implementation that ignores ctx keeps the calling goroutine and
// the data slice until it returns.
type Transport interface {
	BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error)
}

// ControlTransferer performs transfers on the default control pipe.
//
// For IN requests, data is filled with received data. For OUT requests,
// data contains the data to send. Returns the number of bytes transferred in
// the data phase.
type ControlTransferer interface {
	ControlTransfer(ctx context.Context, setup *SetupPacket, data []byte) (int, error)
}

// Claimer is implemented by transports that must take ownership of an
// interface before bulk transfers reach it. For platforms with kernel drivers
// (e.g., Linux usbfs) Claim detaches any bound driver first.
type Claimer interface {
	Claim(config, iface, alt uint8) error
	Release() error
}

// HaltClearer is implemented by transports that can clear an endpoint halt.
type HaltClearer interface {
	ClearHalt(endpoint uint8) error
}
