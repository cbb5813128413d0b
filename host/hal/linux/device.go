//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// claim records an interface taken through [Device.Claim].
type claim struct {
	iface    uint8
	detached string // kernel driver detached on claim, reattached on release
}

// Device is an open usbfs device node. It implements [hal.Transport],
// [hal.ControlTransferer], [hal.Claimer] and [hal.HaltClearer].
//
// Transfers may be issued while another goroutine abandons a previous one;
// claim and close operations are serialized.
type Device struct {
	info DeviceInfo

	mu    sync.Mutex
	fd    int
	claim *claim
}

var (
	_ hal.Transport         = (*Device)(nil)
	_ hal.ControlTransferer = (*Device)(nil)
	_ hal.Claimer           = (*Device)(nil)
	_ hal.HaltClearer       = (*Device)(nil)
)

// Open opens the device with the given bus number and device address.
func Open(bus, dev uint8) (*Device, error) {
	info, err := findDevice(SysfsUSBPath, bus, dev)
	if err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "sysfs entry not found", "bus", bus, "dev", dev, "error", err)
		info = DeviceInfo{Bus: bus, Address: dev, DevfsPath: formatDevfsPath(bus, dev)}
	}
	return OpenInfo(info)
}

// OpenInfo opens the device node named by info.DevfsPath.
func OpenInfo(info DeviceInfo) (*Device, error) {
	fd, err := unix.Open(info.DevfsPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) {
			return nil, fmt.Errorf("open %s: %w (check udev rules or run as root)", info.DevfsPath, err)
		}
		return nil, fmt.Errorf("open %s: %w", info.DevfsPath, mapErrno(err))
	}
	pkg.LogDebug(pkg.ComponentHAL, "device opened",
		"path", info.DevfsPath,
		"vendorID", fmt.Sprintf("%04x", info.VendorID),
		"productID", fmt.Sprintf("%04x", info.ProductID))
	return &Device{info: info, fd: fd}, nil
}

// Info returns what sysfs reported about the device when it was opened.
func (d *Device) Info() DeviceInfo { return d.info }

func (d *Device) handle() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return -1, pkg.ErrNoDevice
	}
	return d.fd, nil
}

// Descriptors returns the raw descriptors cached by the kernel: the device
// descriptor followed by every configuration, in the layout accepted by
// [host.ParseDescriptorTree].
func (d *Device) Descriptors() ([]byte, error) {
	fd, err := d.handle()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, MaxDescriptorsSize)
	total := 0
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], int64(total))
		if err != nil {
			return nil, fmt.Errorf("read descriptors: %w", mapErrno(err))
		}
		if n == 0 {
			break
		}
		total += n
	}
	return buf[:total], nil
}

// DescriptorTree parses [Device.Descriptors].
func (d *Device) DescriptorTree() (*host.DescriptorTree, error) {
	raw, err := d.Descriptors()
	if err != nil {
		return nil, err
	}
	return host.ParseDescriptorTree(raw)
}

// BulkTransfer implements [hal.Transport]. The remaining time before the
// context deadline becomes the kernel transfer timeout.
func (d *Device) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fd, err := d.handle()
	if err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	n, err := doBulkTransfer(fd, endpoint, data, timeoutMillis(deadline, ok, 0))
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// ControlTransfer implements [hal.ControlTransferer].
func (d *Device) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(data) > MaxControlTransferSize {
		return 0, fmt.Errorf("%w: %d byte control transfer", pkg.ErrInvalidParameter, len(data))
	}
	if int(setup.Length) < len(data) {
		data = data[:setup.Length]
	}
	fd, err := d.handle()
	if err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	n, err := doControlTransfer(fd, setup.RequestType, setup.Request, setup.Value, setup.Index,
		data, timeoutMillis(deadline, ok, DefaultControlTimeout))
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// Claim implements [hal.Claimer]. It activates config if another
// configuration is active, detaches any kernel driver bound to iface,
// claims it and selects alt.
func (d *Device) Claim(config, iface, alt uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return pkg.ErrNoDevice
	}
	if d.claim != nil {
		return fmt.Errorf("%w: interface %d already claimed", pkg.ErrBusy, d.claim.iface)
	}
	if iface >= MaxInterfacesPerDevice {
		return fmt.Errorf("%w: interface %d", pkg.ErrInvalidParameter, iface)
	}

	if active, err := activeConfiguration(d.info.SysfsPath); err == nil && active != config {
		if err := setConfiguration(d.fd, config); err != nil {
			return fmt.Errorf("set configuration %d: %w", config, mapErrno(err))
		}
	}

	c := &claim{iface: iface}
	name, err := driverName(d.fd, iface)
	if err != nil {
		return fmt.Errorf("get driver of interface %d: %w", iface, mapErrno(err))
	}
	if name != "" && name != usbfsDriver {
		if err := disconnectDriver(d.fd, iface); err != nil {
			return fmt.Errorf("detach %s from interface %d: %w", name, iface, mapErrno(err))
		}
		c.detached = name
		pkg.LogInfo(pkg.ComponentHAL, "kernel driver detached", "interface", iface, "driver", name)
	}

	if err := claimInterface(d.fd, iface); err != nil {
		d.reattach(c)
		return fmt.Errorf("claim interface %d: %w", iface, mapErrno(err))
	}
	if alt != 0 {
		if err := setAltSetting(d.fd, iface, alt); err != nil {
			_ = releaseInterface(d.fd, iface)
			d.reattach(c)
			return fmt.Errorf("set interface %d alt %d: %w", iface, alt, mapErrno(err))
		}
	}
	d.claim = c
	pkg.LogDebug(pkg.ComponentHAL, "interface claimed", "config", config, "interface", iface, "alt", alt)
	return nil
}

// Release implements [hal.Claimer]. A kernel driver detached by
// [Device.Claim] is reattached.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseLocked()
}

func (d *Device) releaseLocked() error {
	if d.claim == nil {
		return pkg.ErrInvalidState
	}
	c := d.claim
	d.claim = nil
	if err := releaseInterface(d.fd, c.iface); err != nil {
		return fmt.Errorf("release interface %d: %w", c.iface, mapErrno(err))
	}
	return d.reattach(c)
}

func (d *Device) reattach(c *claim) error {
	if c.detached == "" {
		return nil
	}
	if err := connectDriver(d.fd, c.iface); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "kernel driver not reattached",
			"interface", c.iface, "driver", c.detached, "error", err)
		return fmt.Errorf("reattach %s to interface %d: %w", c.detached, c.iface, mapErrno(err))
	}
	pkg.LogInfo(pkg.ComponentHAL, "kernel driver reattached", "interface", c.iface, "driver", c.detached)
	return nil
}

// ClearHalt implements [hal.HaltClearer].
func (d *Device) ClearHalt(endpoint uint8) error {
	fd, err := d.handle()
	if err != nil {
		return err
	}
	if err := clearHalt(fd, endpoint); err != nil {
		return fmt.Errorf("clear halt on %#02x: %w", endpoint, mapErrno(err))
	}
	return nil
}

// Reset performs a USB port reset. The device re-enumerates with the same
// address unless its descriptors changed.
func (d *Device) Reset() error {
	fd, err := d.handle()
	if err != nil {
		return err
	}
	if err := resetDevice(fd); err != nil {
		return fmt.Errorf("reset: %w", mapErrno(err))
	}
	return nil
}

// Close releases a claimed interface and closes the device node.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	var errs []error
	if d.claim != nil {
		errs = append(errs, d.releaseLocked())
	}
	errs = append(errs, unix.Close(d.fd))
	d.fd = -1
	return errors.Join(errs...)
}
