package host

import (
	"errors"
	"fmt"

	"github.com/ardnew/usbstream/pkg"
)

// Endpoint discovery errors.
var (
	// ErrNoMatchingInterface indicates no interface carries the target class.
	ErrNoMatchingInterface = errors.New("no matching interface")

	// ErrInsufficientEndpoints indicates the matching interface has fewer
	// than two endpoints.
	ErrInsufficientEndpoints = errors.New("insufficient endpoints")

	// ErrConflictingDirections indicates the candidate endpoints share a
	// direction.
	ErrConflictingDirections = errors.New("conflicting endpoint directions")

	// ErrNotBulk indicates a candidate endpoint is not a bulk endpoint. It is
	// only reported when [RequireBulk] is in effect.
	ErrNotBulk = errors.New("endpoint is not bulk")
)

// Direction is the data direction of an endpoint, from the host's view.
type Direction uint8

// Endpoint directions.
const (
	DirectionOut Direction = iota // Host to device
	DirectionIn                   // Device to host
)

// String returns "in" or "out".
func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// ClassTriple is a class/subclass/protocol code triple.
type ClassTriple struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// MassStorageBulkOnly selects SCSI transparent command set devices using
// the Bulk-Only Transport.
var MassStorageBulkOnly = ClassTriple{Class: 0x08, SubClass: 0x06, Protocol: 0x50}

// String returns the triple as hex codes, e.g. "08/06/50".
func (c ClassTriple) String() string {
	return fmt.Sprintf("%02x/%02x/%02x", c.Class, c.SubClass, c.Protocol)
}

// Endpoint identifies one transfer endpoint and the interface setting that
// must be active to reach it.
type Endpoint struct {
	Config        uint8 // bConfigurationValue
	Interface     uint8 // bInterfaceNumber
	AltSetting    uint8 // bAlternateSetting
	Address       uint8 // bEndpointAddress, including the direction bit
	Direction     Direction
	TransferType  uint8
	MaxPacketSize uint16
}

// String formats the endpoint as "cfg1.if0.alt0/ep0x81(in)".
func (e Endpoint) String() string {
	return fmt.Sprintf("cfg%d.if%d.alt%d/ep%#02x(%s)", e.Config, e.Interface, e.AltSetting, e.Address, e.Direction)
}

// LocatorOption tightens the endpoint selection rule.
type LocatorOption func(*locatorConfig)

type locatorConfig struct {
	requireBulk bool
}

// RequireBulk rejects candidate endpoints that are not bulk endpoints.
func RequireBulk() LocatorOption {
	return func(c *locatorConfig) { c.requireBulk = true }
}

// FindDuplexPair locates the read (IN) and write (OUT) endpoints of the
// first interface matching target.
//
// When the device descriptor itself carries target, every interface
// matches. Configurations, interfaces, and alternate settings are visited in
// descriptor order. The last two endpoints of the first matching setting
// are the only candidates; if they do not form an IN/OUT pair the search
// fails without considering later interfaces.
func FindDuplexPair(tree *DescriptorTree, target ClassTriple, opts ...LocatorOption) (read, write Endpoint, err error) {
	var cfg locatorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	deviceMatch := tree.Device.Class() == target
	for ci := range tree.Configurations {
		conf := &tree.Configurations[ci]
		for ii := range conf.Interfaces {
			for ai := range conf.Interfaces[ii].AltSettings {
				alt := &conf.Interfaces[ii].AltSettings[ai]
				if !deviceMatch && alt.Descriptor.Class() != target {
					continue
				}
				read, write, err = selectPair(conf.Descriptor.ConfigurationValue, alt, cfg)
				if err != nil {
					pkg.LogDebug(pkg.ComponentEndpoint, "matching interface rejected",
						"interface", alt.Descriptor.InterfaceNumber,
						"alt", alt.Descriptor.AlternateSetting,
						"error", err)
					return Endpoint{}, Endpoint{}, err
				}
				pkg.LogDebug(pkg.ComponentEndpoint, "found duplex pair",
					"read", read.String(), "write", write.String())
				return read, write, nil
			}
		}
	}
	return Endpoint{}, Endpoint{}, fmt.Errorf("%w: class %s", ErrNoMatchingInterface, target)
}

func selectPair(config uint8, alt *AltSetting, cfg locatorConfig) (read, write Endpoint, err error) {
	eps := alt.Endpoints
	if len(eps) < 2 {
		return read, write, fmt.Errorf("%w: interface %d has %d",
			ErrInsufficientEndpoints, alt.Descriptor.InterfaceNumber, len(eps))
	}
	a, b := eps[len(eps)-2], eps[len(eps)-1]

	if cfg.requireBulk {
		for _, ep := range []EndpointDescriptor{a, b} {
			if !ep.IsBulk() {
				return read, write, fmt.Errorf("%w: %#02x", ErrNotBulk, ep.EndpointAddress)
			}
		}
	}

	switch {
	case a.Direction() == DirectionIn && b.Direction() == DirectionOut:
		return endpointOf(config, alt, a), endpointOf(config, alt, b), nil
	case a.Direction() == DirectionOut && b.Direction() == DirectionIn:
		return endpointOf(config, alt, b), endpointOf(config, alt, a), nil
	default:
		return read, write, fmt.Errorf("%w: %#02x and %#02x are both %s",
			ErrConflictingDirections, a.EndpointAddress, b.EndpointAddress, a.Direction())
	}
}

func endpointOf(config uint8, alt *AltSetting, ep EndpointDescriptor) Endpoint {
	return Endpoint{
		Config:        config,
		Interface:     alt.Descriptor.InterfaceNumber,
		AltSetting:    alt.Descriptor.AlternateSetting,
		Address:       ep.EndpointAddress,
		Direction:     ep.Direction(),
		TransferType:  ep.TransferType(),
		MaxPacketSize: ep.MaxPacketSize,
	}
}
