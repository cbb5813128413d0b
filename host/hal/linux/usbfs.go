//go:build linux

package linux

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstream/pkg"
)

// =============================================================================
// usbfs Argument Structures
// =============================================================================

// ctrlTransfer represents a control transfer request.
// This must match the kernel's struct usbdevfs_ctrltransfer layout.
type ctrlTransfer struct {
	requestType uint8   // bmRequestType
	request     uint8   // bRequest
	value       uint16  // wValue
	index       uint16  // wIndex
	length      uint16  // wLength
	timeout     uint32  // Timeout in milliseconds
	data        uintptr // Data buffer pointer
}

// bulkTransfer represents a bulk transfer request.
// This must match the kernel's struct usbdevfs_bulktransfer layout.
type bulkTransfer struct {
	endpoint uint32  // Endpoint address
	length   uint32  // Data length
	timeout  uint32  // Timeout in milliseconds
	data     uintptr // Data buffer pointer
}

// setInterface matches struct usbdevfs_setinterface.
type setInterface struct {
	iface uint32
	alt   uint32
}

// getDriver matches struct usbdevfs_getdriver.
type getDriver struct {
	iface  uint32
	driver [driverNameLen]byte
}

// usbIoctl matches struct usbdevfs_ioctl, which routes an ioctl to the
// driver bound to one interface.
type usbIoctl struct {
	ifno int32
	code int32
	data uintptr
}

// =============================================================================
// Raw Syscall Wrappers
// =============================================================================

// ioctlPtr performs an ioctl whose argument is a pointer and returns the
// result value.
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// ioctlUint performs an ioctl whose argument points to an unsigned int.
func ioctlUint(fd int, req uintptr, v uint32) error {
	_, err := ioctlPtr(fd, req, unsafe.Pointer(&v))
	return err
}

// =============================================================================
// USBDEVFS Operations
// =============================================================================

// doControlTransfer performs a synchronous control transfer.
func doControlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeout uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     timeout,
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	n, err := ioctlPtr(fd, ioctlUsbdevfsControl, unsafe.Pointer(&ctrl))
	runtime.KeepAlive(data)
	return n, err
}

// doBulkTransfer performs a synchronous bulk transfer.
func doBulkTransfer(fd int, endpoint uint8, data []byte, timeout uint32) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeout,
	}
	if len(data) > 0 {
		bulk.data = uintptr(unsafe.Pointer(&data[0]))
	}
	n, err := ioctlPtr(fd, ioctlUsbdevfsBulk, unsafe.Pointer(&bulk))
	runtime.KeepAlive(data)
	return n, err
}

// claimInterface claims exclusive access to an interface.
func claimInterface(fd int, iface uint8) error {
	return ioctlUint(fd, ioctlUsbdevfsClaimInterface, uint32(iface))
}

// releaseInterface releases a previously claimed interface.
func releaseInterface(fd int, iface uint8) error {
	return ioctlUint(fd, ioctlUsbdevfsReleaseInterface, uint32(iface))
}

// setConfiguration selects the active configuration.
func setConfiguration(fd int, config uint8) error {
	return ioctlUint(fd, ioctlUsbdevfsSetConfiguration, uint32(config))
}

// setAltSetting selects an alternate setting of a claimed interface.
func setAltSetting(fd int, iface, alt uint8) error {
	arg := setInterface{iface: uint32(iface), alt: uint32(alt)}
	_, err := ioctlPtr(fd, ioctlUsbdevfsSetInterface, unsafe.Pointer(&arg))
	return err
}

// clearHalt clears a halt condition on an endpoint.
func clearHalt(fd int, endpoint uint8) error {
	return ioctlUint(fd, ioctlUsbdevfsClearHalt, uint32(endpoint))
}

// resetDevice resets the USB device.
func resetDevice(fd int) error {
	_, err := ioctlPtr(fd, ioctlUsbdevfsReset, nil)
	return err
}

// driverName returns the kernel driver bound to an interface, or "" when
// none is bound.
func driverName(fd int, iface uint8) (string, error) {
	arg := getDriver{iface: uint32(iface)}
	if _, err := ioctlPtr(fd, ioctlUsbdevfsGetDriver, unsafe.Pointer(&arg)); err != nil {
		if errors.Is(err, unix.ENODATA) {
			return "", nil
		}
		return "", err
	}
	name, _, _ := bytes.Cut(arg.driver[:], []byte{0})
	return string(name), nil
}

// interfaceIoctl routes an argument-less usbfs ioctl to an interface driver.
func interfaceIoctl(fd int, iface uint8, code uintptr) error {
	arg := usbIoctl{ifno: int32(iface), code: int32(code)}
	_, err := ioctlPtr(fd, ioctlUsbdevfsIoctl, unsafe.Pointer(&arg))
	return err
}

// disconnectDriver detaches the kernel driver from an interface.
func disconnectDriver(fd int, iface uint8) error {
	return interfaceIoctl(fd, iface, ioctlUsbdevfsDisconnect)
}

// connectDriver reattaches the kernel driver to an interface.
func connectDriver(fd int, iface uint8) error {
	return interfaceIoctl(fd, iface, ioctlUsbdevfsConnect)
}

// =============================================================================
// Error Helpers
// =============================================================================

// mapErrno translates a usbfs errno into the package sentinel it denotes.
// The errno stays in the chain for callers that need it.
func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	var sentinel error
	switch errno {
	case unix.ETIMEDOUT:
		sentinel = pkg.ErrTimeout
	case unix.EPIPE:
		sentinel = pkg.ErrStall
	case unix.ENODEV, unix.ESHUTDOWN:
		sentinel = pkg.ErrNoDevice
	case unix.EBUSY:
		sentinel = pkg.ErrBusy
	case unix.EOVERFLOW:
		sentinel = pkg.ErrOverrun
	case unix.EPROTO, unix.EILSEQ:
		sentinel = pkg.ErrProtocol
	case unix.ENOENT, unix.ECONNRESET:
		sentinel = pkg.ErrCancelled
	case unix.EINVAL:
		sentinel = pkg.ErrInvalidParameter
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, errno)
}

// timeoutMillis converts the time left before deadline into a usbfs
// timeout. A zero deadline selects fallback; a passed deadline yields 1 ms
// since 0 means no timeout to the kernel.
func timeoutMillis(deadline time.Time, ok bool, fallback time.Duration) uint32 {
	if !ok {
		if fallback <= 0 {
			return 0
		}
		return uint32(fallback.Milliseconds())
	}
	ms := time.Until(deadline).Milliseconds()
	if ms < 1 {
		return 1
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}
