//go:build linux

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/hal/linux"
	"github.com/ardnew/usbstream/pkg"
	"github.com/ardnew/usbstream/pkg/linux/usbid"
)

// openUSBDevice opens bus/dev, or the only attached mass-storage device
// when both are zero.
func openUSBDevice(bus, dev uint8) (usbDevice, error) {
	if bus != 0 || dev != 0 {
		d, err := linux.Open(bus, dev)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	devices, err := linux.ScanClass(host.MassStorageBulkOnly)
	if err != nil {
		return nil, fmt.Errorf("scan sysfs: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("%w: no mass-storage device attached", pkg.ErrNoDevice)
	case 1:
		pkg.LogInfo(pkg.ComponentCLI, "using attached device", "device", devices[0].String())
		d, err := linux.OpenInfo(devices[0])
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %d mass-storage devices attached, select one with --bus and --dev",
			pkg.ErrInvalidParameter, len(devices))
	}
}

// listDevices prints attached devices; only mass-storage ones unless all.
func listDevices(w io.Writer, all bool) error {
	devices, err := linux.Scan()
	if err != nil {
		return fmt.Errorf("scan sysfs: %w", err)
	}
	db := usbid.New()
	if !db.Load() {
		pkg.LogDebug(pkg.ComponentCLI, "usb.ids not found, names come from sysfs only")
	}

	for _, d := range devices {
		if !all && !d.HasClass(host.MassStorageBulkOnly) {
			continue
		}
		vendor := firstNonEmpty(d.Manufacturer, db.LookupVendor(d.VendorID))
		product := firstNonEmpty(d.Product, db.LookupProduct(d.VendorID, d.ProductID))
		fmt.Fprintf(w, "Bus %03d Device %03d: ID %04x:%04x %s  [%s]\n",
			d.Bus, d.Address, d.VendorID, d.ProductID,
			strings.TrimSpace(vendor+" "+product), d.Speed)

		for _, iface := range d.Interfaces {
			class := db.LookupClass(iface.Class, iface.SubClass, iface.Protocol)
			if class == "" {
				class = iface.Triple().String()
			}
			driver := iface.Driver
			if driver == "" {
				driver = "-"
			}
			fmt.Fprintf(w, "    interface %d: %s (driver %s)\n", iface.Number, class, driver)
		}
	}
	return nil
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
