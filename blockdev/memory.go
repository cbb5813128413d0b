package blockdev

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
)

// Memory is a [Device] held entirely in memory. It records which blocks
// have been written since creation.
type Memory struct {
	data      []byte
	blockSize int
	written   *bitset.BitSet
}

// NewMemory returns a zero-filled device of the given geometry.
func NewMemory(blockSize int, blocks uint64) *Memory {
	return &Memory{
		data:      make([]byte, uint64(blockSize)*blocks),
		blockSize: blockSize,
		written:   bitset.New(uint(blocks)),
	}
}

// NewMemoryFrom returns a device whose contents are a copy of image. A
// trailing partial block is dropped.
func NewMemoryFrom(blockSize int, image []byte) *Memory {
	blocks := uint64(len(image) / blockSize)
	m := NewMemory(blockSize, blocks)
	copy(m.data, image)
	return m
}

// BlockSize returns the block size in bytes.
func (m *Memory) BlockSize() int { return m.blockSize }

// BlockCount returns the number of blocks.
func (m *Memory) BlockCount() uint64 { return uint64(len(m.data) / m.blockSize) }

// Bytes returns the backing image.
func (m *Memory) Bytes() []byte { return m.data }

// ReadBlock implements [Device].
func (m *Memory) ReadBlock(off int64, p []byte) (int, error) {
	if err := CheckAccess(off, p, m.blockSize); err != nil {
		return 0, err
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	return copy(p, m.data[off:off+int64(m.blockSize)]), nil
}

// WriteBlock implements [Device].
func (m *Memory) WriteBlock(off int64, p []byte) (int, error) {
	if err := CheckAccess(off, p, m.blockSize); err != nil {
		return 0, err
	}
	if off >= int64(len(m.data)) {
		return 0, fmt.Errorf("%w: offset %d (capacity %d)", ErrOutOfRange, off, len(m.data))
	}
	n := copy(m.data[off:off+int64(m.blockSize)], p)
	m.written.Set(uint(off / int64(m.blockSize)))
	return n, nil
}

// Written reports whether the block with the given index has been written.
func (m *Memory) Written(block uint64) bool {
	return m.written.Test(uint(block))
}

// WrittenBlocks returns the number of distinct blocks written.
func (m *Memory) WrittenBlocks() uint {
	return m.written.Count()
}
