package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// File is a [Device] backed by a memory-mapped disk image.
type File struct {
	f         *os.File
	mm        mmap.MMap
	blockSize int
	size      int64
	readOnly  bool
}

// OpenFile maps an existing image. A trailing partial block is not
// addressable.
func OpenFile(path string, blockSize int, writable bool) (*File, error) {
	flag, prot := os.O_RDONLY, mmap.RDONLY
	if writable {
		flag, prot = os.O_RDWR, mmap.RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("error opening image: %w", err)
	}
	return mapFile(f, blockSize, prot, !writable)
}

// CreateFile creates (or truncates) an image of the given geometry and
// maps it read-write.
func CreateFile(path string, blockSize int, blocks uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error creating image: %w", err)
	}
	if err := f.Truncate(int64(blocks) * int64(blockSize)); err != nil {
		return nil, errors.Join(fmt.Errorf("error allocating image: %w", err), f.Close())
	}
	return mapFile(f, blockSize, mmap.RDWR, false)
}

func mapFile(f *os.File, blockSize int, prot int, readOnly bool) (*File, error) {
	if blockSize <= 0 {
		return nil, errors.Join(fmt.Errorf("%w: block size %d", ErrUnaligned, blockSize), f.Close())
	}
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error reading image size: %w", err), f.Close())
	}
	size := info.Size() - info.Size()%int64(blockSize)
	if size == 0 {
		// mmap rejects empty mappings; an empty image reads as EOF.
		return &File{f: f, blockSize: blockSize, readOnly: readOnly}, nil
	}
	mm, err := mmap.MapRegion(f, int(size), prot, 0, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error mapping image: %w", err), f.Close())
	}
	return &File{f: f, mm: mm, blockSize: blockSize, size: size, readOnly: readOnly}, nil
}

// BlockSize returns the block size in bytes.
func (d *File) BlockSize() int { return d.blockSize }

// BlockCount returns the number of addressable blocks.
func (d *File) BlockCount() uint64 { return uint64(d.size / int64(d.blockSize)) }

// ReadBlock implements [Device].
func (d *File) ReadBlock(off int64, p []byte) (int, error) {
	if err := CheckAccess(off, p, d.blockSize); err != nil {
		return 0, err
	}
	if off >= d.size {
		return 0, io.EOF
	}
	return copy(p, d.mm[off:off+int64(d.blockSize)]), nil
}

// WriteBlock implements [Device].
func (d *File) WriteBlock(off int64, p []byte) (int, error) {
	if d.readOnly {
		return 0, ErrReadOnly
	}
	if err := CheckAccess(off, p, d.blockSize); err != nil {
		return 0, err
	}
	if off >= d.size {
		return 0, fmt.Errorf("%w: offset %d (capacity %d)", ErrOutOfRange, off, d.size)
	}
	return copy(d.mm[off:off+int64(d.blockSize)], p), nil
}

// Sync flushes dirty pages of the mapping to the image file.
func (d *File) Sync() error {
	if d.mm == nil || d.readOnly {
		return nil
	}
	if err := d.mm.Flush(); err != nil {
		return fmt.Errorf("error flushing mmap: %w", err)
	}
	return nil
}

// Close flushes and unmaps the image and closes the file.
func (d *File) Close() error {
	var flushErr, unmapErr error
	if d.mm != nil {
		flushErr = d.Sync()
		unmapErr = d.mm.Unmap()
		d.mm = nil
	}
	closeErr := d.f.Close()
	return errors.Join(flushErr, unmapErr, closeErr)
}
