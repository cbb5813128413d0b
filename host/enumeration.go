package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// ErrEnumerationFailed indicates a descriptor request returned too little data.
var ErrEnumerationFailed = errors.New("enumeration failed")

// Strings holds the standard string descriptors of a device.
type Strings struct {
	Manufacturer string
	Product      string
	SerialNumber string
}

func getDescriptor(ctx context.Context, ctrl hal.ControlTransferer, typ, index uint8, langID uint16, buf []byte) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(typ)<<8 | uint16(index),
		Index:       langID,
		Length:      uint16(len(buf)),
	}
	return ctrl.ControlTransfer(ctx, &setup, buf)
}

// ReadDescriptorTree retrieves the device descriptor and every configuration
// over the default control pipe.
func ReadDescriptorTree(ctx context.Context, ctrl hal.ControlTransferer) (*DescriptorTree, error) {
	buf := make([]byte, MaxDescriptorSize)

	n, err := getDescriptor(ctx, ctrl, DescriptorTypeDevice, 0, 0, buf[:DeviceDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("get device descriptor: %w", err)
	}
	if n < DeviceDescriptorSize {
		return nil, fmt.Errorf("%w: device descriptor %d bytes", ErrEnumerationFailed, n)
	}
	dev, err := ParseDeviceDescriptor(buf[:n])
	if err != nil {
		return nil, err
	}
	tree := &DescriptorTree{Device: dev}

	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"vendorID", fmt.Sprintf("%04x", dev.VendorID),
		"productID", fmt.Sprintf("%04x", dev.ProductID),
		"class", dev.Class().String())

	for index := uint8(0); index < dev.NumConfigurations; index++ {
		// Header first to learn wTotalLength.
		n, err := getDescriptor(ctx, ctrl, DescriptorTypeConfiguration, index, 0, buf[:ConfigurationDescriptorSize])
		if err != nil {
			return nil, fmt.Errorf("get configuration %d header: %w", index, err)
		}
		if n < ConfigurationDescriptorSize {
			return nil, fmt.Errorf("%w: configuration %d header %d bytes", ErrEnumerationFailed, index, n)
		}
		total := int(binary.LittleEndian.Uint16(buf[2:4]))
		if total > len(buf) {
			total = len(buf)
		}

		n, err = getDescriptor(ctx, ctrl, DescriptorTypeConfiguration, index, 0, buf[:total])
		if err != nil {
			return nil, fmt.Errorf("get configuration %d: %w", index, err)
		}
		cfg, err := ParseConfiguration(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("configuration %d: %w", index, err)
		}
		tree.Configurations = append(tree.Configurations, cfg)

		pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
			"index", index,
			"configValue", cfg.Descriptor.ConfigurationValue,
			"numInterfaces", len(cfg.Interfaces))
	}
	return tree, nil
}

// ReadStrings retrieves the manufacturer, product, and serial number
// strings named by dev. Missing strings are left empty.
func ReadStrings(ctx context.Context, ctrl hal.ControlTransferer, dev DeviceDescriptor) (Strings, error) {
	var s Strings
	buf := make([]byte, 255)
	for _, field := range []struct {
		index uint8
		out   *string
	}{
		{dev.ManufacturerIndex, &s.Manufacturer},
		{dev.ProductIndex, &s.Product},
		{dev.SerialNumberIndex, &s.SerialNumber},
	} {
		if field.index == 0 {
			continue
		}
		n, err := getDescriptor(ctx, ctrl, DescriptorTypeString, field.index, LangIDUSEnglish, buf)
		if err != nil {
			return s, fmt.Errorf("get string %d: %w", field.index, err)
		}
		*field.out = DecodeStringDescriptor(buf[:n])
	}
	return s, nil
}

// DecodeStringDescriptor decodes the UTF-16LE payload of a string
// descriptor. Malformed input decodes to the empty string.
func DecodeStringDescriptor(data []byte) string {
	if len(data) < 2 || data[1] != DescriptorTypeString {
		return ""
	}
	length := int(data[0])
	if length > len(data) {
		length = len(data)
	}
	if length < 2 {
		return ""
	}
	units := make([]uint16, 0, (length-2)/2)
	for i := 2; i+1 < length; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units))
}

// EncodeStringDescriptor encodes s as a string descriptor.
func EncodeStringDescriptor(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+2*len(units))
	out[0] = byte(2 + 2*len(units))
	out[1] = DescriptorTypeString
	for _, u := range units {
		out = binary.LittleEndian.AppendUint16(out, u)
	}
	return out
}
