package pkg

import "io"

// Buffer is the growable byte sink/source exchanged with a bulk pipe.
//
// An IN transfer sizes its staging area from CapacityHint and appends the
// received bytes; an OUT transfer drains every pending byte. Bytes are
// consumed in the order they were appended.
type Buffer interface {
	io.ReadWriter
	io.ByteReader
	io.ByteWriter

	// Len returns the number of unread bytes.
	Len() int

	// CapacityHint returns the number of bytes the next IN transfer should
	// request.
	CapacityHint() int

	// Reset discards all pending bytes. The capacity hint is kept.
	Reset()
}

// TransferBuffer is a [Buffer] backed by a byte slice.
type TransferBuffer struct {
	data []byte
	off  int
	hint int
}

// NewTransferBuffer returns an empty buffer that requests hint bytes per
// IN transfer.
func NewTransferBuffer(hint int) *TransferBuffer {
	return &TransferBuffer{data: make([]byte, 0, hint), hint: hint}
}

// NewTransferBufferFrom returns a buffer holding a copy of p, ready to drain.
func NewTransferBufferFrom(p []byte) *TransferBuffer {
	b := &TransferBuffer{data: make([]byte, len(p)), hint: len(p)}
	copy(b.data, p)
	return b
}

// Len returns the number of unread bytes.
func (b *TransferBuffer) Len() int { return len(b.data) - b.off }

// CapacityHint returns the IN transfer request size.
func (b *TransferBuffer) CapacityHint() int { return b.hint }

// SetCapacityHint changes the IN transfer request size.
func (b *TransferBuffer) SetCapacityHint(n int) { b.hint = n }

// Bytes returns the unread bytes without consuming them.
func (b *TransferBuffer) Bytes() []byte { return b.data[b.off:] }

// Write appends p.
func (b *TransferBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends c.
func (b *TransferBuffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// Read consumes up to len(p) bytes. It returns io.EOF when nothing is
// pending and p is non-empty.
func (b *TransferBuffer) Read(p []byte) (int, error) {
	if b.Len() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += n
	b.compact()
	return n, nil
}

// ReadByte consumes one byte, or returns ErrBufferEmpty.
func (b *TransferBuffer) ReadByte() (byte, error) {
	if b.Len() == 0 {
		return 0, ErrBufferEmpty
	}
	c := b.data[b.off]
	b.off++
	b.compact()
	return c, nil
}

// Reset discards all pending bytes.
func (b *TransferBuffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

func (b *TransferBuffer) compact() {
	if b.off == len(b.data) {
		b.Reset()
	}
}
