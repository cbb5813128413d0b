package blockdev

import (
	"errors"
	"fmt"
)

// Block device errors.
var (
	// ErrIOFailure indicates the device reported a failed block operation.
	ErrIOFailure = errors.New("block I/O failure")

	// ErrShortTransfer indicates the device moved fewer bytes than a block.
	ErrShortTransfer = errors.New("short block transfer")

	// ErrUnaligned indicates an offset or buffer length that is not a
	// multiple of the block size.
	ErrUnaligned = errors.New("unaligned block access")

	// ErrOutOfRange indicates a write beyond the last block.
	ErrOutOfRange = errors.New("block offset out of range")

	// ErrReadOnly indicates a write to a device opened read-only.
	ErrReadOnly = errors.New("device is read-only")
)

// Device is a storage device reachable only through block-aligned
// transfers of exactly one block.
type Device interface {
	// BlockSize returns the block size in bytes. It is constant for the
	// lifetime of the device.
	BlockSize() int

	// ReadBlock reads the block at byte offset off into p, which must be
	// BlockSize bytes long. It returns 0 and io.EOF at or past the end.
	ReadBlock(off int64, p []byte) (int, error)

	// WriteBlock writes the BlockSize bytes of p to byte offset off.
	WriteBlock(off int64, p []byte) (int, error)
}

// Sizer is implemented by devices that know their capacity.
type Sizer interface {
	BlockCount() uint64
}

// Syncer is implemented by devices with a volatile write cache.
type Syncer interface {
	Sync() error
}

// Capacity returns the size of dev in bytes, or false when the device does
// not implement [Sizer].
func Capacity(dev Device) (int64, bool) {
	s, ok := dev.(Sizer)
	if !ok {
		return 0, false
	}
	return int64(s.BlockCount()) * int64(dev.BlockSize()), true
}

// CheckAccess validates one block access of p at off against blockSize.
func CheckAccess(off int64, p []byte, blockSize int) error {
	if blockSize <= 0 {
		return fmt.Errorf("%w: block size %d", ErrUnaligned, blockSize)
	}
	if off < 0 || off%int64(blockSize) != 0 {
		return fmt.Errorf("%w: offset %d (block size %d)", ErrUnaligned, off, blockSize)
	}
	if len(p) != blockSize {
		return fmt.Errorf("%w: buffer length %d (block size %d)", ErrUnaligned, len(p), blockSize)
	}
	return nil
}
