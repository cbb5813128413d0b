package host

// endpoint builds a bulk endpoint descriptor.
func endpoint(addr uint8) EndpointDescriptor {
	return EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: addr,
		Attributes:      EndpointTypeBulk,
		MaxPacketSize:   512,
	}
}

// altSetting builds an alternate setting with the given class and endpoints.
func altSetting(num, alt uint8, class ClassTriple, eps ...EndpointDescriptor) AltSetting {
	return AltSetting{
		Descriptor: InterfaceDescriptor{
			Length:            InterfaceDescriptorSize,
			DescriptorType:    DescriptorTypeInterface,
			InterfaceNumber:   num,
			AlternateSetting:  alt,
			NumEndpoints:      uint8(len(eps)),
			InterfaceClass:    class.Class,
			InterfaceSubClass: class.SubClass,
			InterfaceProtocol: class.Protocol,
		},
		Endpoints: eps,
	}
}

// treeOf builds a single-configuration tree holding the given settings.
func treeOf(settings ...AltSetting) *DescriptorTree {
	cfg := Configuration{
		Descriptor: ConfigurationDescriptor{
			Length:             ConfigurationDescriptorSize,
			DescriptorType:     DescriptorTypeConfiguration,
			ConfigurationValue: 1,
			Attributes:         0x80,
			MaxPower:           50,
		},
	}
	for _, s := range settings {
		placed := false
		for i := range cfg.Interfaces {
			if cfg.Interfaces[i].Number == s.Descriptor.InterfaceNumber {
				cfg.Interfaces[i].AltSettings = append(cfg.Interfaces[i].AltSettings, s)
				placed = true
			}
		}
		if !placed {
			cfg.Interfaces = append(cfg.Interfaces, Interface{
				Number:      s.Descriptor.InterfaceNumber,
				AltSettings: []AltSetting{s},
			})
		}
	}
	return &DescriptorTree{
		Device: DeviceDescriptor{
			Length:            DeviceDescriptorSize,
			DescriptorType:    DescriptorTypeDevice,
			USBVersion:        0x0200,
			MaxPacketSize0:    64,
			VendorID:          0x0781,
			ProductID:         0x5567,
			NumConfigurations: 1,
		},
		Configurations: []Configuration{cfg},
	}
}

var hidClass = ClassTriple{Class: 0x03, SubClass: 0x01, Protocol: 0x01}

// flashDrive is a composite device: a HID interface, then a Bulk-Only
// mass-storage interface with IN before OUT.
func flashDrive() *DescriptorTree {
	return treeOf(
		altSetting(0, 0, hidClass, EndpointDescriptor{
			Length: EndpointDescriptorSize, DescriptorType: DescriptorTypeEndpoint,
			EndpointAddress: 0x83, Attributes: EndpointTypeInterrupt, MaxPacketSize: 8, Interval: 10,
		}),
		altSetting(1, 0, MassStorageBulkOnly, endpoint(0x81), endpoint(0x02)),
	)
}
