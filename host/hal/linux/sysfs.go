//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// =============================================================================
// USB Device Information
// =============================================================================

// DeviceInfo describes a USB device discovered via sysfs.
type DeviceInfo struct {
	Bus       uint8
	Address   uint8
	VendorID  uint16
	ProductID uint16
	Class     uint8 // bDeviceClass
	Speed     hal.Speed

	Manufacturer string
	Product      string
	Serial       string

	SysfsPath string // e.g. /sys/bus/usb/devices/1-1.2
	DevfsPath string // e.g. /dev/bus/usb/001/007

	Interfaces []InterfaceInfo
}

// InterfaceInfo describes one interface of the active configuration.
type InterfaceInfo struct {
	Number   uint8
	Class    uint8
	SubClass uint8
	Protocol uint8
	Driver   string // bound kernel driver, empty if none
}

// Triple returns the interface class triple.
func (i InterfaceInfo) Triple() host.ClassTriple {
	return host.ClassTriple{Class: i.Class, SubClass: i.SubClass, Protocol: i.Protocol}
}

// HasClass reports whether any interface matches c.
func (d *DeviceInfo) HasClass(c host.ClassTriple) bool {
	for _, iface := range d.Interfaces {
		if iface.Triple() == c {
			return true
		}
	}
	return false
}

// String returns a one-line summary in the style of lsusb.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("Bus %03d Device %03d: ID %04x:%04x %s", d.Bus, d.Address, d.VendorID, d.ProductID,
		strings.TrimSpace(d.Manufacturer+" "+d.Product))
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// Scan lists the USB devices present in sysfs, ordered by bus and address.
func Scan() ([]DeviceInfo, error) {
	return scanRoot(SysfsUSBPath)
}

// ScanClass lists the devices with an interface matching c.
func ScanClass(c host.ClassTriple) ([]DeviceInfo, error) {
	devices, err := Scan()
	if err != nil {
		return nil, err
	}
	var matched []DeviceInfo
	for _, dev := range devices {
		if dev.HasClass(c) {
			matched = append(matched, dev)
		}
	}
	return matched, nil
}

func scanRoot(root string) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Root hubs are "usbN"; interfaces are "<device>:<config>.<iface>".
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		info, err := parseUSBDevice(filepath.Join(root, name))
		if err != nil {
			pkg.LogDebug(pkg.ComponentHAL, "skipping sysfs entry", "name", name, "error", err)
			continue
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Bus != devices[j].Bus {
			return devices[i].Bus < devices[j].Bus
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// findDevice returns the device at bus and dev under root.
func findDevice(root string, bus, dev uint8) (DeviceInfo, error) {
	devices, err := scanRoot(root)
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, d := range devices {
		if d.Bus == bus && d.Address == dev {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: bus %d device %d", pkg.ErrNoDevice, bus, dev)
}

func parseUSBDevice(sysfsPath string) (DeviceInfo, error) {
	info := DeviceInfo{SysfsPath: sysfsPath}

	bus, err := readSysfsUint8(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return info, err
	}
	dev, err := readSysfsUint8(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return info, err
	}
	info.Bus, info.Address = bus, dev
	info.DevfsPath = formatDevfsPath(bus, dev)

	if v, err := readSysfsHexUint16(filepath.Join(sysfsPath, "idVendor")); err == nil {
		info.VendorID = v
	}
	if v, err := readSysfsHexUint16(filepath.Join(sysfsPath, "idProduct")); err == nil {
		info.ProductID = v
	}
	if v, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bDeviceClass")); err == nil {
		info.Class = v
	}
	if s, err := readSysfsString(filepath.Join(sysfsPath, "speed")); err == nil {
		info.Speed = parseSpeed(s)
	}

	// String attributes are absent when the device has no string descriptors.
	info.Manufacturer, _ = readSysfsString(filepath.Join(sysfsPath, "manufacturer"))
	info.Product, _ = readSysfsString(filepath.Join(sysfsPath, "product"))
	info.Serial, _ = readSysfsString(filepath.Join(sysfsPath, "serial"))

	info.Interfaces = scanInterfaces(sysfsPath)
	return info, nil
}

func scanInterfaces(devicePath string) []InterfaceInfo {
	entries, err := os.ReadDir(devicePath)
	if err != nil {
		return nil
	}

	var interfaces []InterfaceInfo
	prefix := filepath.Base(devicePath) + ":"
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		iface, err := parseInterface(filepath.Join(devicePath, entry.Name()))
		if err != nil {
			continue
		}
		interfaces = append(interfaces, iface)
	}

	sort.Slice(interfaces, func(i, j int) bool { return interfaces[i].Number < interfaces[j].Number })
	return interfaces
}

func parseInterface(sysfsPath string) (InterfaceInfo, error) {
	var info InterfaceInfo

	num, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceNumber"))
	if err != nil {
		return info, err
	}
	info.Number = num

	if v, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceClass")); err == nil {
		info.Class = v
	}
	if v, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceSubClass")); err == nil {
		info.SubClass = v
	}
	if v, err := readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceProtocol")); err == nil {
		info.Protocol = v
	}

	// "driver" is a symlink into /sys/bus/usb/drivers/<name>.
	if target, err := os.Readlink(filepath.Join(sysfsPath, "driver")); err == nil {
		info.Driver = filepath.Base(target)
	}
	return info, nil
}

// activeConfiguration reads bConfigurationValue. An unconfigured device
// reports an empty attribute, which reads as configuration 0.
func activeConfiguration(sysfsPath string) (uint8, error) {
	if sysfsPath == "" {
		return 0, os.ErrNotExist
	}
	s, err := readSysfsString(filepath.Join(sysfsPath, "bConfigurationValue"))
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

func readSysfsHexUint8(path string) (uint8, error) {
	v, err := readSysfsHex(path, 8)
	return uint8(v), err
}

func readSysfsHexUint16(path string) (uint16, error) {
	v, err := readSysfsHex(path, 16)
	return uint16(v), err
}

// =============================================================================
// Path Helpers
// =============================================================================

// formatDevfsPath returns /dev/bus/usb/BBB/DDD for the given numbers.
func formatDevfsPath(busNum, devNum uint8) string {
	var buf [DevfsPathMaxLen]byte
	n := copy(buf[:], DevfsUSBPath)
	buf[n] = '/'
	n++
	n += formatPadded(buf[n:], busNum, 3)
	buf[n] = '/'
	n++
	n += formatPadded(buf[n:], devNum, 3)
	return string(buf[:n])
}

// formatPadded writes val zero-padded to width and returns width.
func formatPadded(buf []byte, val uint8, width int) int {
	s := strconv.FormatUint(uint64(val), 10)
	padding := width - len(s)
	for i := 0; i < padding && i < len(buf); i++ {
		buf[i] = '0'
	}
	copy(buf[max(padding, 0):], s)
	return max(width, len(s))
}

// parseSpeed converts a sysfs speed string (Mbit/s) to a hal.Speed value.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	case "5000", "10000", "20000":
		return hal.SpeedSuper
	default:
		return hal.SpeedUnknown
	}
}
