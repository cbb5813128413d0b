package host

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbstream/pkg"
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions (bEndpointAddress bit 7).
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Descriptor types.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeInterfaceAssociation = 0x0B
)

// Standard request codes.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestSetInterface     = 0x0B
)

// Request types (bmRequestType).
const (
	RequestTypeOut       = 0x00 // Host to device
	RequestTypeIn        = 0x80 // Device to host
	RequestTypeStandard  = 0x00 // Standard request
	RequestTypeClass     = 0x20 // Class-specific request
	RequestTypeDevice    = 0x00 // Recipient: device
	RequestTypeInterface = 0x01 // Recipient: interface
	RequestTypeEndpoint  = 0x02 // Recipient: endpoint
)

// LangIDUSEnglish is the default language ID for string descriptors.
const LangIDUSEnglish = 0x0409

// MaxDescriptorSize bounds a single configuration read over ep0.
const MaxDescriptorSize = 4096

// DeviceDescriptor represents a USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the size of a device descriptor.
const DeviceDescriptorSize = 18

// ParseDeviceDescriptor parses a device descriptor from data.
func ParseDeviceDescriptor(data []byte) (DeviceDescriptor, error) {
	var d DeviceDescriptor
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return d, fmt.Errorf("device descriptor: %w", err)
	}
	d.Length = data[0]
	d.DescriptorType = data[1]
	d.USBVersion = binary.LittleEndian.Uint16(data[2:])
	d.DeviceClass = data[4]
	d.DeviceSubClass = data[5]
	d.DeviceProtocol = data[6]
	d.MaxPacketSize0 = data[7]
	d.VendorID = binary.LittleEndian.Uint16(data[8:])
	d.ProductID = binary.LittleEndian.Uint16(data[10:])
	d.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	d.ManufacturerIndex = data[14]
	d.ProductIndex = data[15]
	d.SerialNumberIndex = data[16]
	d.NumConfigurations = data[17]
	return d, nil
}

// AppendTo appends the wire encoding of d to b.
func (d DeviceDescriptor) AppendTo(b []byte) []byte {
	b = append(b, DeviceDescriptorSize, DescriptorTypeDevice)
	b = binary.LittleEndian.AppendUint16(b, d.USBVersion)
	b = append(b, d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0)
	b = binary.LittleEndian.AppendUint16(b, d.VendorID)
	b = binary.LittleEndian.AppendUint16(b, d.ProductID)
	b = binary.LittleEndian.AppendUint16(b, d.DeviceVersion)
	return append(b, d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations)
}

// Class returns the device-level class triple.
func (d DeviceDescriptor) Class() ClassTriple {
	return ClassTriple{Class: d.DeviceClass, SubClass: d.DeviceSubClass, Protocol: d.DeviceProtocol}
}

// ConfigurationDescriptor represents a USB configuration descriptor.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ConfigurationDescriptorSize is the size of a configuration descriptor header.
const ConfigurationDescriptorSize = 9

// ParseConfigurationDescriptor parses a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte) (ConfigurationDescriptor, error) {
	var c ConfigurationDescriptor
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return c, fmt.Errorf("configuration descriptor: %w", err)
	}
	c.Length = data[0]
	c.DescriptorType = data[1]
	c.TotalLength = binary.LittleEndian.Uint16(data[2:])
	c.NumInterfaces = data[4]
	c.ConfigurationValue = data[5]
	c.ConfigurationIndex = data[6]
	c.Attributes = data[7]
	c.MaxPower = data[8]
	return c, nil
}

// AppendTo appends the wire encoding of c to b.
func (c ConfigurationDescriptor) AppendTo(b []byte) []byte {
	b = append(b, ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	b = binary.LittleEndian.AppendUint16(b, c.TotalLength)
	return append(b, c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower)
}

// InterfaceDescriptor represents a USB interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the size of an interface descriptor.
const InterfaceDescriptorSize = 9

// ParseInterfaceDescriptor parses an interface descriptor from data.
func ParseInterfaceDescriptor(data []byte) (InterfaceDescriptor, error) {
	var d InterfaceDescriptor
	if err := checkHeader(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return d, fmt.Errorf("interface descriptor: %w", err)
	}
	d.Length = data[0]
	d.DescriptorType = data[1]
	d.InterfaceNumber = data[2]
	d.AlternateSetting = data[3]
	d.NumEndpoints = data[4]
	d.InterfaceClass = data[5]
	d.InterfaceSubClass = data[6]
	d.InterfaceProtocol = data[7]
	d.InterfaceIndex = data[8]
	return d, nil
}

// AppendTo appends the wire encoding of d to b.
func (d InterfaceDescriptor) AppendTo(b []byte) []byte {
	return append(b, InterfaceDescriptorSize, DescriptorTypeInterface,
		d.InterfaceNumber, d.AlternateSetting, d.NumEndpoints,
		d.InterfaceClass, d.InterfaceSubClass, d.InterfaceProtocol, d.InterfaceIndex)
}

// Class returns the interface class triple.
func (d InterfaceDescriptor) Class() ClassTriple {
	return ClassTriple{Class: d.InterfaceClass, SubClass: d.InterfaceSubClass, Protocol: d.InterfaceProtocol}
}

// EndpointDescriptor represents a USB endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// EndpointDescriptorSize is the size of an endpoint descriptor.
const EndpointDescriptorSize = 7

// ParseEndpointDescriptor parses an endpoint descriptor from data.
func ParseEndpointDescriptor(data []byte) (EndpointDescriptor, error) {
	var e EndpointDescriptor
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return e, fmt.Errorf("endpoint descriptor: %w", err)
	}
	e.Length = data[0]
	e.DescriptorType = data[1]
	e.EndpointAddress = data[2]
	e.Attributes = data[3]
	e.MaxPacketSize = binary.LittleEndian.Uint16(data[4:])
	e.Interval = data[6]
	return e, nil
}

// AppendTo appends the wire encoding of e to b.
func (e EndpointDescriptor) AppendTo(b []byte) []byte {
	b = append(b, EndpointDescriptorSize, DescriptorTypeEndpoint, e.EndpointAddress, e.Attributes)
	b = binary.LittleEndian.AppendUint16(b, e.MaxPacketSize)
	return append(b, e.Interval)
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.EndpointAddress & 0x0F
}

// Direction returns the endpoint direction.
func (e *EndpointDescriptor) Direction() Direction {
	if e.EndpointAddress&EndpointDirectionIn != 0 {
		return DirectionIn
	}
	return DirectionOut
}

// TransferType returns the transfer type.
func (e *EndpointDescriptor) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsBulk returns true if this is a bulk endpoint.
func (e *EndpointDescriptor) IsBulk() bool {
	return e.TransferType() == EndpointTypeBulk
}

func checkHeader(data []byte, size int, typ uint8) error {
	if len(data) < size || int(data[0]) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != typ {
		return fmt.Errorf("%w: got %#02x, want %#02x", pkg.ErrDescriptorTypeMismatch, data[1], typ)
	}
	return nil
}
