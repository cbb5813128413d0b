package hal

import (
	"bytes"
	"testing"
)

// =============================================================================
// Speed Tests
// =============================================================================

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{SpeedHigh, "High Speed"},
		{SpeedSuper, "SuperSpeed"},
		{Speed(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.expected {
				t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// SetupPacket Tests
// =============================================================================

func TestParseSetupPacket(t *testing.T) {
	data := []byte{
		0x80,       // RequestType (Device-to-Host, Standard, Device)
		0x06,       // Request (GET_DESCRIPTOR)
		0x00, 0x02, // Value (Configuration Descriptor)
		0x00, 0x00, // Index
		0x09, 0x00, // Length (9)
	}

	var setup SetupPacket
	if !ParseSetupPacket(data, &setup) {
		t.Fatal("ParseSetupPacket returned false")
	}
	if setup.RequestType != 0x80 || setup.Request != 0x06 {
		t.Errorf("RequestType/Request = %#x/%#x", setup.RequestType, setup.Request)
	}
	if setup.Value != 0x0200 {
		t.Errorf("Value = %#04x, want 0x0200", setup.Value)
	}
	if setup.Length != 9 {
		t.Errorf("Length = %d, want 9", setup.Length)
	}
	if !setup.IsIn() {
		t.Error("IsIn() = false for device-to-host request")
	}
}

func TestParseSetupPacket_TooShort(t *testing.T) {
	var setup SetupPacket
	if ParseSetupPacket(make([]byte, SetupPacketSize-1), &setup) {
		t.Error("ParseSetupPacket accepted short data")
	}
}

func TestSetupPacket_MarshalTo(t *testing.T) {
	setup := SetupPacket{
		RequestType: 0x00,
		Request:     0x09, // SET_CONFIGURATION
		Value:       0x0001,
		Index:       0x0000,
		Length:      0,
	}

	buf := make([]byte, SetupPacketSize)
	if n := setup.MarshalTo(buf); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}
	want := []byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf, want) {
		t.Errorf("MarshalTo() wrote % x, want % x", buf, want)
	}
	if setup.IsIn() {
		t.Error("IsIn() = true for host-to-device request")
	}
}

func TestSetupPacket_MarshalTo_TooSmall(t *testing.T) {
	setup := SetupPacket{Request: 0x06}
	if n := setup.MarshalTo(make([]byte, 4)); n != 0 {
		t.Errorf("MarshalTo() = %d, want 0", n)
	}
}

// =============================================================================
// TransferType Tests
// =============================================================================

func TestTransferType_String(t *testing.T) {
	tests := []struct {
		tt   TransferType
		want string
	}{
		{TransferControl, "control"},
		{TransferIsochronous, "isochronous"},
		{TransferBulk, "bulk"},
		{TransferInterrupt, "interrupt"},
		{TransferType(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.tt.String(); got != tt.want {
			t.Errorf("TransferType(%d).String() = %q, want %q", tt.tt, got, tt.want)
		}
	}
}
