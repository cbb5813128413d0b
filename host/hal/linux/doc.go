// Package linux provides a USB host transport for Linux using usbfs.
//
// Device nodes under /dev/bus/usb carry control and bulk transfers through
// synchronous usbfs ioctls, and sysfs (/sys/bus/usb/devices) supplies
// device discovery. The package is pure Go with no cgo dependencies.
//
// # Requirements
//
// The user running the application must have read/write access to the USB
// device nodes in /dev/bus/usb. This typically requires either:
//   - Running as root
//   - Appropriate udev rules granting access to the user/group
//
// # Kernel drivers
//
// A mass-storage interface is normally bound to the kernel's usb-storage
// driver. [Device.Claim] detaches that driver before claiming the
// interface, and [Device.Release] reattaches it.
//
// # Timeouts
//
// usbfs transfers are synchronous and cannot be cancelled once submitted.
// [Device.BulkTransfer] converts the context deadline into the kernel
// transfer timeout, so the ioctl returns ETIMEDOUT close to the deadline.
package linux
