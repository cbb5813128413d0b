package host

import (
	"fmt"

	"github.com/ardnew/usbstream/pkg"
)

// DescriptorTree is the parsed descriptor hierarchy of one device.
type DescriptorTree struct {
	Device         DeviceDescriptor
	Configurations []Configuration
}

// Configuration groups the interfaces of one configuration in descriptor
// order.
type Configuration struct {
	Descriptor ConfigurationDescriptor
	Interfaces []Interface
}

// Interface holds every alternate setting sharing one interface number.
type Interface struct {
	Number      uint8
	AltSettings []AltSetting
}

// AltSetting is one interface descriptor with the endpoints that follow it.
type AltSetting struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor

	// Extra holds class- or vendor-specific descriptors in order.
	Extra [][]byte
}

// ParseDescriptorTree parses a device descriptor followed by the complete
// descriptor set of each configuration, as returned by a usbfs device node.
func ParseDescriptorTree(raw []byte) (*DescriptorTree, error) {
	dev, err := ParseDeviceDescriptor(raw)
	if err != nil {
		return nil, err
	}
	tree := &DescriptorTree{Device: dev}

	rest := raw[dev.Length:]
	for len(rest) > 0 {
		hdr, err := ParseConfigurationDescriptor(rest)
		if err != nil {
			return nil, fmt.Errorf("configuration %d: %w", len(tree.Configurations), err)
		}
		total := int(hdr.TotalLength)
		if total < int(hdr.Length) || total > len(rest) {
			return nil, fmt.Errorf("configuration %d: total length %d exceeds %d available: %w",
				len(tree.Configurations), total, len(rest), pkg.ErrDescriptorTooShort)
		}
		cfg, err := ParseConfiguration(rest[:total])
		if err != nil {
			return nil, err
		}
		tree.Configurations = append(tree.Configurations, cfg)
		rest = rest[total:]
	}

	pkg.LogDebug(pkg.ComponentHost, "parsed descriptor tree",
		"vendorID", fmt.Sprintf("%04x", dev.VendorID),
		"productID", fmt.Sprintf("%04x", dev.ProductID),
		"configurations", len(tree.Configurations))
	return tree, nil
}

// ParseConfiguration parses one configuration's full descriptor set.
//
// Interface descriptors sharing an interface number become alternate
// settings of one [Interface]. Endpoint and class-specific descriptors attach
// to the alternate setting preceding them; any that precede the first
// interface descriptor are ignored.
func ParseConfiguration(data []byte) (Configuration, error) {
	var cfg Configuration
	hdr, err := ParseConfigurationDescriptor(data)
	if err != nil {
		return cfg, err
	}
	cfg.Descriptor = hdr
	cfg.Interfaces = make([]Interface, 0, hdr.NumInterfaces)

	end := len(data)
	if int(hdr.TotalLength) < end {
		end = int(hdr.TotalLength)
	}

	var alt *AltSetting
	for offset := int(hdr.Length); offset < end; {
		if offset+2 > end {
			return cfg, fmt.Errorf("descriptor at offset %d: %w", offset, pkg.ErrDescriptorTooShort)
		}
		length := int(data[offset])
		if length < 2 || offset+length > end {
			return cfg, fmt.Errorf("descriptor at offset %d: length %d: %w", offset, length, pkg.ErrDescriptorTooShort)
		}
		desc := data[offset : offset+length]

		switch desc[1] {
		case DescriptorTypeInterface:
			iface, err := ParseInterfaceDescriptor(desc)
			if err != nil {
				return cfg, err
			}
			alt = cfg.addAltSetting(iface)

		case DescriptorTypeEndpoint:
			ep, err := ParseEndpointDescriptor(desc)
			if err != nil {
				return cfg, err
			}
			if alt != nil {
				alt.Endpoints = append(alt.Endpoints, ep)
			}

		default:
			if alt != nil {
				alt.Extra = append(alt.Extra, append([]byte(nil), desc...))
			}
		}
		offset += length
	}
	return cfg, nil
}

func (c *Configuration) addAltSetting(d InterfaceDescriptor) *AltSetting {
	idx := -1
	for i := range c.Interfaces {
		if c.Interfaces[i].Number == d.InterfaceNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.Interfaces = append(c.Interfaces, Interface{Number: d.InterfaceNumber})
		idx = len(c.Interfaces) - 1
	}
	iface := &c.Interfaces[idx]
	iface.AltSettings = append(iface.AltSettings, AltSetting{Descriptor: d})
	return &iface.AltSettings[len(iface.AltSettings)-1]
}

// Marshal encodes the configuration, recomputing wTotalLength,
// bNumInterfaces, and each bNumEndpoints.
func (c *Configuration) Marshal() []byte {
	body := make([]byte, 0, 64)
	for _, iface := range c.Interfaces {
		for _, alt := range iface.AltSettings {
			d := alt.Descriptor
			d.InterfaceNumber = iface.Number
			d.NumEndpoints = uint8(len(alt.Endpoints))
			body = d.AppendTo(body)
			for _, extra := range alt.Extra {
				body = append(body, extra...)
			}
			for _, ep := range alt.Endpoints {
				body = ep.AppendTo(body)
			}
		}
	}
	hdr := c.Descriptor
	hdr.TotalLength = uint16(ConfigurationDescriptorSize + len(body))
	hdr.NumInterfaces = uint8(len(c.Interfaces))
	return append(hdr.AppendTo(make([]byte, 0, int(hdr.TotalLength))), body...)
}

// Marshal encodes the tree in the layout accepted by [ParseDescriptorTree].
func (t *DescriptorTree) Marshal() []byte {
	dev := t.Device
	dev.NumConfigurations = uint8(len(t.Configurations))
	out := dev.AppendTo(nil)
	for i := range t.Configurations {
		out = append(out, t.Configurations[i].Marshal()...)
	}
	return out
}

// Configuration returns the configuration with the given bConfigurationValue.
func (t *DescriptorTree) Configuration(value uint8) (*Configuration, bool) {
	for i := range t.Configurations {
		if t.Configurations[i].Descriptor.ConfigurationValue == value {
			return &t.Configurations[i], true
		}
	}
	return nil, false
}
