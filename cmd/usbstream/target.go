package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
	"github.com/ardnew/usbstream/pkg/mbr"
	"github.com/ardnew/usbstream/stream"
)

// usbDevice is an opened physical device.
type usbDevice interface {
	hal.Transport
	hal.ControlTransferer
	io.Closer
}

// openUSB opens the device selected by bus and dev. Tests replace it.
var openUSB = openUSBDevice

// target is an opened block device with everything that must be closed
// after it, in order.
type target struct {
	blockdev.Device

	name     string
	identity *msc.InquiryResponse // nil for images
	device   host.DeviceDescriptor
	strings  host.Strings
	maxLUN   uint8

	closers []io.Closer
}

func (t *target) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = append(errs, t.closers[i].Close())
	}
	t.closers = nil
	return errors.Join(errs...)
}

// open opens the image or USB device named by the global flags.
func (g *globalFlags) open(ctx context.Context, writable bool) (*target, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if g.image != "" {
		f, err := blockdev.OpenFile(g.image, g.blockSize, writable)
		if err != nil {
			return nil, err
		}
		return &target{Device: f, name: g.image, closers: []io.Closer{f}}, nil
	}

	var (
		dev  usbDevice
		name string
		err  error
	)
	if g.fifo != "" {
		dev, err = g.dialFIFO(ctx)
		name = "fifo " + g.fifo
	} else {
		dev, err = openUSB(g.bus, g.dev)
		name = fmt.Sprintf("usb %03d/%03d", g.bus, g.dev)
	}
	if err != nil {
		return nil, err
	}
	t := &target{name: name, closers: []io.Closer{dev}}
	if err := g.attach(ctx, dev, t); err != nil {
		return nil, errors.Join(err, t.Close())
	}
	return t, nil
}

// attach runs the host pipeline on dev: descriptor retrieval, endpoint
// location, channel setup and block protocol initialization. A protocol
// failure during initialization triggers one reset recovery.
func (g *globalFlags) attach(ctx context.Context, dev usbDevice, t *target) error {
	tree, err := host.ReadDescriptorTree(ctx, dev)
	if err != nil {
		return err
	}
	t.device = tree.Device
	if t.strings, err = host.ReadStrings(ctx, dev, tree.Device); err != nil {
		pkg.LogDebug(pkg.ComponentCLI, "string descriptors unavailable", "error", err)
	}

	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly)
	if err != nil {
		return err
	}
	ch, err := host.NewDuplexChannel(dev, read, write, host.WithTimeout(g.timeout))
	if err != nil {
		return err
	}
	if err := ch.Claim(); err != nil {
		return err
	}
	t.closers = append(t.closers, ch)

	iface := read.Interface
	t.maxLUN, err = msc.GetMaxLUN(ctx, dev, iface)
	if err != nil {
		return err
	}
	if g.lun > t.maxLUN {
		return fmt.Errorf("%w: lun %d (max %d)", pkg.ErrInvalidParameter, g.lun, t.maxLUN)
	}

	client, err := msc.New(ch, msc.WithLUN(g.lun))
	if err != nil {
		return err
	}
	if err := client.Init(); err != nil {
		if !errors.Is(err, pkg.ErrProtocol) {
			return err
		}
		pkg.LogWarn(pkg.ComponentCLI, "initialization failed, attempting reset recovery", "error", err)
		if rerr := msc.ResetRecovery(ctx, dev, iface, ch); rerr != nil {
			return errors.Join(err, rerr)
		}
		if err := client.Init(); err != nil {
			return err
		}
	}

	id := client.Identity()
	t.Device = client
	t.identity = &id
	return nil
}

// origin returns the device offset of stream position 0: the start of the
// selected partition, or 0.
func (g *globalFlags) origin(t *target) (int64, error) {
	if g.partition == 0 {
		return 0, nil
	}
	tbl, err := mbr.Read(t)
	if err != nil {
		return 0, err
	}
	var blocks uint64
	if s, ok := t.Device.(blockdev.Sizer); ok {
		blocks = s.BlockCount()
	}
	p, err := tbl.Partition(g.partition, blocks)
	if err != nil {
		return 0, err
	}
	return p.Offset(t.BlockSize()), nil
}

// openStream opens the target and a stream at the selected origin.
func (g *globalFlags) openStream(ctx context.Context, writable bool) (*target, *stream.Stream, error) {
	t, err := g.open(ctx, writable)
	if err != nil {
		return nil, nil, err
	}
	base, err := g.origin(t)
	if err != nil {
		return nil, nil, errors.Join(err, t.Close())
	}
	s, err := stream.New(t.Device, base)
	if err != nil {
		return nil, nil, errors.Join(err, t.Close())
	}
	pkg.LogDebug(pkg.ComponentCLI, "stream opened", "target", t.name, "base", base)
	return t, s, nil
}
