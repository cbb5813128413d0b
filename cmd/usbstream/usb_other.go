//go:build !linux

package main

import (
	"fmt"
	"io"

	"github.com/ardnew/usbstream/pkg"
)

func openUSBDevice(uint8, uint8) (usbDevice, error) {
	return nil, fmt.Errorf("%w: USB access requires Linux usbfs; use --image", pkg.ErrNotSupported)
}

func listDevices(io.Writer, bool) error {
	return fmt.Errorf("%w: device listing requires Linux sysfs", pkg.ErrNotSupported)
}
