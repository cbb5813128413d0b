//go:build linux

package linux

import "unsafe"

// iocLayout describes how an architecture packs ioctl numbers:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-..: argument size (size), sizeBits wide
//	high bits:  direction (dir)
type iocLayout struct {
	none, read, write uintptr
	sizeBits          uint
}

// genericIoc is the asm-generic layout used by x86, arm, arm64, riscv64,
// loong64 and s390x: a 14-bit size and a 2-bit direction.
var genericIoc = iocLayout{none: 0, read: 2, write: 1, sizeBits: 14}

// dir3Ioc is the layout of mips, powerpc and sparc: a 13-bit size and a
// 3-bit direction.
var dir3Ioc = iocLayout{none: 1, read: 2, write: 4, sizeBits: 13}

const (
	iocNRBits   = 8
	iocTypeBits = 8

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
)

// encode constructs an ioctl number from direction, type, number, and size.
func (l iocLayout) encode(dir, typ, nr, size uintptr) uintptr {
	return (dir << (iocSizeShift + l.sizeBits)) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// ior constructs a read ioctl number.
func ior(typ, nr, size uintptr) uintptr {
	return nativeIoc.encode(nativeIoc.read, typ, nr, size)
}

// iow constructs a write ioctl number.
func iow(typ, nr, size uintptr) uintptr {
	return nativeIoc.encode(nativeIoc.write, typ, nr, size)
}

// iowr constructs a read/write ioctl number.
func iowr(typ, nr, size uintptr) uintptr {
	return nativeIoc.encode(nativeIoc.read|nativeIoc.write, typ, nr, size)
}

// ion constructs an ioctl number with no data transfer.
func ion(typ, nr uintptr) uintptr {
	return nativeIoc.encode(nativeIoc.none, typ, nr, 0)
}

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs ioctl command numbers.
const (
	ioctlControl          = 0
	ioctlBulk             = 2
	ioctlSetInterface     = 4
	ioctlSetConfiguration = 5
	ioctlGetDriver        = 8
	ioctlClaimInterface   = 15
	ioctlReleaseInterface = 16
	ioctlIoctl            = 18
	ioctlReset            = 20
	ioctlClearHalt        = 21
	ioctlDisconnect       = 22
	ioctlConnect          = 23
)

const sizeofUint = unsafe.Sizeof(uint32(0))

// Usbdevfs ioctl numbers. Argument sizes follow the native pointer width.
var (
	ioctlUsbdevfsControl          = iowr(usbdevfsType, ioctlControl, unsafe.Sizeof(ctrlTransfer{}))
	ioctlUsbdevfsBulk             = iowr(usbdevfsType, ioctlBulk, unsafe.Sizeof(bulkTransfer{}))
	ioctlUsbdevfsSetInterface     = ior(usbdevfsType, ioctlSetInterface, unsafe.Sizeof(setInterface{}))
	ioctlUsbdevfsSetConfiguration = ior(usbdevfsType, ioctlSetConfiguration, sizeofUint)
	ioctlUsbdevfsGetDriver        = iow(usbdevfsType, ioctlGetDriver, unsafe.Sizeof(getDriver{}))
	ioctlUsbdevfsClaimInterface   = ior(usbdevfsType, ioctlClaimInterface, sizeofUint)
	ioctlUsbdevfsReleaseInterface = ior(usbdevfsType, ioctlReleaseInterface, sizeofUint)
	ioctlUsbdevfsIoctl            = iowr(usbdevfsType, ioctlIoctl, unsafe.Sizeof(usbIoctl{}))
	ioctlUsbdevfsReset            = ion(usbdevfsType, ioctlReset)
	ioctlUsbdevfsClearHalt        = ior(usbdevfsType, ioctlClearHalt, sizeofUint)
	ioctlUsbdevfsDisconnect       = ion(usbdevfsType, ioctlDisconnect)
	ioctlUsbdevfsConnect          = ion(usbdevfsType, ioctlConnect)
)
