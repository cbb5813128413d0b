package msctarget

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// String descriptor indexes.
const (
	stringManufacturer = 1
	stringProduct      = 2
	stringSerial       = 3
)

// SerialNumber is the serial number string reported by every target.
const SerialNumber = "000000000001"

// DescriptorTree returns the descriptors the target reports: one
// configuration holding a single Bulk-Only mass-storage interface with its
// IN endpoint listed before its OUT endpoint.
func (t *Target) DescriptorTree() *host.DescriptorTree {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.treeLocked()
}

func (t *Target) treeLocked() *host.DescriptorTree {
	bulk := func(addr uint8) host.EndpointDescriptor {
		return host.EndpointDescriptor{
			Length:          host.EndpointDescriptorSize,
			DescriptorType:  host.DescriptorTypeEndpoint,
			EndpointAddress: addr,
			Attributes:      host.EndpointTypeBulk,
			MaxPacketSize:   512,
		}
	}
	alt := host.AltSetting{
		Descriptor: host.InterfaceDescriptor{
			Length:            host.InterfaceDescriptorSize,
			DescriptorType:    host.DescriptorTypeInterface,
			InterfaceClass:    msc.ClassMSC,
			InterfaceSubClass: msc.SubclassSCSI,
			InterfaceProtocol: msc.ProtocolBulkOnly,
		},
		Endpoints: []host.EndpointDescriptor{bulk(t.inAddr), bulk(t.outAddr)},
	}
	return &host.DescriptorTree{
		Device: host.DeviceDescriptor{
			Length:            host.DeviceDescriptorSize,
			DescriptorType:    host.DescriptorTypeDevice,
			USBVersion:        0x0200,
			MaxPacketSize0:    64,
			VendorID:          t.vendorID,
			ProductID:         t.productID,
			DeviceVersion:     0x0100,
			ManufacturerIndex: stringManufacturer,
			ProductIndex:      stringProduct,
			SerialNumberIndex: stringSerial,
			NumConfigurations: 1,
		},
		Configurations: []host.Configuration{{
			Descriptor: host.ConfigurationDescriptor{
				Length:             host.ConfigurationDescriptorSize,
				DescriptorType:     host.DescriptorTypeConfiguration,
				ConfigurationValue: 1,
				Attributes:         0x80,
				MaxPower:           50,
			},
			Interfaces: []host.Interface{{Number: 0, AltSettings: []host.AltSetting{alt}}},
		}},
	}
}

// ControlTransfer implements [hal.ControlTransferer]. It answers the
// standard descriptor requests and the Bulk-Only class requests; anything
// else stalls.
func (t *Target) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, pkg.ErrNoDevice
	}

	switch setup.RequestType & 0x60 {
	case host.RequestTypeStandard:
		switch setup.Request {
		case host.RequestGetDescriptor:
			return t.getDescriptor(setup, data)
		case host.RequestSetConfiguration, host.RequestSetInterface:
			return 0, nil
		case host.RequestClearFeature:
			// ENDPOINT_HALT on an endpoint recipient.
			if setup.RequestType&0x1F == host.RequestTypeEndpoint && setup.Value == 0 {
				delete(t.halted, uint8(setup.Index))
				return 0, nil
			}
		}
	case host.RequestTypeClass:
		switch setup.Request {
		case msc.RequestGetMaxLUN:
			if len(data) < 1 {
				return 0, pkg.ErrBufferTooSmall
			}
			pkg.LogDebug(pkg.ComponentMSC, "Get Max LUN", "maxLUN", t.maxLUN)
			data[0] = t.maxLUN
			return 1, nil
		case msc.RequestBulkOnlyMassStorageReset:
			pkg.LogDebug(pkg.ComponentMSC, "MSC reset requested")
			t.resetLocked()
			return 0, nil
		}
	}
	return 0, pkg.ErrStall
}

func (t *Target) getDescriptor(setup *hal.SetupPacket, data []byte) (int, error) {
	typ, index := uint8(setup.Value>>8), uint8(setup.Value)
	var desc []byte
	switch typ {
	case host.DescriptorTypeDevice:
		desc = t.treeLocked().Device.AppendTo(nil)
	case host.DescriptorTypeConfiguration:
		if index != 0 {
			return 0, pkg.ErrStall
		}
		desc = t.treeLocked().Configurations[0].Marshal()
	case host.DescriptorTypeString:
		switch index {
		case 0:
			desc = binary.LittleEndian.AppendUint16([]byte{4, host.DescriptorTypeString}, host.LangIDUSEnglish)
		case stringManufacturer:
			desc = host.EncodeStringDescriptor(t.inquiry.Vendor())
		case stringProduct:
			desc = host.EncodeStringDescriptor(t.inquiry.Product())
		case stringSerial:
			desc = host.EncodeStringDescriptor(SerialNumber)
		default:
			return 0, pkg.ErrStall
		}
	default:
		return 0, pkg.ErrStall
	}
	n := min(len(desc), int(setup.Length))
	return copy(data, desc[:n]), nil
}
