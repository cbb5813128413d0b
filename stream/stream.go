package stream

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/pkg"
)

// Stream errors.
var (
	// ErrUnexpectedEndOfDevice indicates a write ran past the last block.
	ErrUnexpectedEndOfDevice = fmt.Errorf("unexpected end of device: %w", io.ErrUnexpectedEOF)

	// ErrFlushFailed indicates the cached block could not be written back.
	// The block stays cached and dirty so the flush can be retried.
	ErrFlushFailed = errors.New("flush failed")

	// ErrSeekUnderflow indicates a seek to a position before the start of
	// the stream.
	ErrSeekUnderflow = errors.New("seek before start of stream")

	// ErrClosed indicates use of a closed stream.
	ErrClosed = errors.New("stream closed")
)

// Stream is a single-block write-back cache over a [blockdev.Device].
//
// Positions are relative to the base offset given to [New]; position 0 is
// the first byte of the block at the base offset.
type Stream struct {
	dev       blockdev.Device
	blockSize int64
	base      int64

	cursor int64  // stream position
	block  int64  // stream position of the cached block
	buf    []byte // len 0 (empty) or blockSize (loaded)
	dirty  bool
	closed bool

	// scratch backs buf so reloads do not allocate.
	scratch []byte

	bytesRead    uint64
	bytesWritten uint64
	flushes      uint64
}

var (
	_ io.ReadWriteSeeker = (*Stream)(nil)
	_ io.Closer          = (*Stream)(nil)
)

// New returns a stream over dev whose position 0 is at byte baseOffset of
// the device. baseOffset must be a non-negative multiple of the block size.
func New(dev blockdev.Device, baseOffset int64) (*Stream, error) {
	bs := int64(dev.BlockSize())
	if bs <= 0 {
		return nil, fmt.Errorf("%w: block size %d", blockdev.ErrUnaligned, bs)
	}
	if baseOffset < 0 || baseOffset%bs != 0 {
		return nil, fmt.Errorf("%w: base offset %d (block size %d)", blockdev.ErrUnaligned, baseOffset, bs)
	}
	scratch := make([]byte, bs)
	s := &Stream{
		dev:       dev,
		blockSize: bs,
		base:      baseOffset,
		buf:       scratch[:0],
		scratch:   scratch,
	}
	runtime.SetFinalizer(s, finalize)
	return s, nil
}

// finalize is the safety net for streams dropped without Close. It runs on
// the finalizer goroutine and has no caller to report to.
func finalize(s *Stream) {
	if s.closed || !s.dirty {
		return
	}
	if err := s.Flush(); err != nil {
		pkg.LogError(pkg.ComponentStream, "implicit flush of unclosed stream failed",
			"offset", s.base+s.block, "error", err)
		return
	}
	pkg.LogWarn(pkg.ComponentStream, "unclosed stream flushed by finalizer",
		"offset", s.base+s.block)
}

// BlockSize returns the block size of the underlying device.
func (s *Stream) BlockSize() int { return int(s.blockSize) }

// BaseOffset returns the device offset of stream position 0.
func (s *Stream) BaseOffset() int64 { return s.base }

// Position returns the current stream position.
func (s *Stream) Position() int64 { return s.cursor }

// Dirty reports whether the cached block holds unflushed writes.
func (s *Stream) Dirty() bool { return s.dirty }

// load makes the block containing the cursor resident. It reports false
// when the device returned no data for that block.
func (s *Stream) load() (bool, error) {
	if len(s.buf) != 0 {
		return true, nil
	}
	blk := s.cursor - s.cursor%s.blockSize
	off := s.base + blk
	buf := s.scratch[:s.blockSize]

	n, err := s.dev.ReadBlock(off, buf)
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		pkg.LogDebug(pkg.ComponentStream, "end of device", "offset", off)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load block at %d: %w", off, err)
	}
	if int64(n) != s.blockSize {
		return false, fmt.Errorf("load block at %d: %w: read %d of %d bytes",
			off, blockdev.ErrShortTransfer, n, s.blockSize)
	}

	s.buf = buf
	s.block = blk
	pkg.LogDebug(pkg.ComponentStream, "block loaded", "offset", off)
	return true, nil
}

// cross handles the cursor leaving the cached block: the block is flushed
// if dirty and then dropped. On flush failure the block stays cached.
func (s *Stream) cross() error {
	if s.cursor < s.block+s.blockSize {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	s.block += s.blockSize
	return nil
}

// Read reads up to len(p) bytes from the current position. A short count
// with a nil error means the end of the device was reached; io.EOF is
// returned only when no bytes could be read.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) {
		ok, err := s.load()
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		n := copy(p[total:], s.buf[s.cursor-s.block:])
		total += n
		s.cursor += int64(n)
		s.bytesRead += uint64(n)
		if err := s.cross(); err != nil {
			return total, err
		}
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write writes p at the current position. Every touched block is loaded
// before it is modified so bytes outside p are preserved. If the device
// ends before p is consumed, Write returns the count cached so far and
// ErrUnexpectedEndOfDevice.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) {
		ok, err := s.load()
		if err != nil {
			return total, err
		}
		if !ok {
			return total, fmt.Errorf("write at position %d: %w", s.cursor, ErrUnexpectedEndOfDevice)
		}
		n := copy(s.buf[s.cursor-s.block:], p[total:])
		s.dirty = true
		total += n
		s.cursor += int64(n)
		s.bytesWritten += uint64(n)
		if err := s.cross(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Flush writes the cached block back to the device if it is dirty.
// Flushing a clean stream does nothing.
func (s *Stream) Flush() error {
	if !s.dirty {
		return nil
	}
	off := s.base + s.block
	n, err := s.dev.WriteBlock(off, s.buf)
	if err != nil {
		return fmt.Errorf("%w: block at %d: %w", ErrFlushFailed, off, err)
	}
	if int64(n) != s.blockSize {
		return fmt.Errorf("%w: block at %d: %w: wrote %d of %d bytes",
			ErrFlushFailed, off, blockdev.ErrShortTransfer, n, s.blockSize)
	}
	s.dirty = false
	s.flushes++
	pkg.LogDebug(pkg.ComponentStream, "block flushed", "offset", off)
	return nil
}

// Seek sets the position for the next Read or Write. SeekEnd requires a
// device implementing [blockdev.Sizer]. Any unflushed data is written back
// first; if that fails the position is unchanged.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursor + offset
	case io.SeekEnd:
		size, ok := blockdev.Capacity(s.dev)
		if !ok {
			return s.cursor, fmt.Errorf("seek from end: %w", pkg.ErrNotSupported)
		}
		target = size - s.base + offset
	default:
		return s.cursor, fmt.Errorf("%w: whence %d", pkg.ErrInvalidParameter, whence)
	}
	if target < 0 {
		return s.cursor, fmt.Errorf("%w: offset %d whence %d from %d", ErrSeekUnderflow, offset, whence, s.cursor)
	}

	if err := s.Flush(); err != nil {
		return s.cursor, err
	}
	s.buf = s.buf[:0]
	s.block = target - target%s.blockSize
	s.cursor = target
	return target, nil
}

// Close flushes the cached block and syncs devices implementing
// [blockdev.Syncer]. If the flush fails the stream stays open so Close can
// be retried.
func (s *Stream) Close() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.Flush(); err != nil {
		return err
	}
	if sy, ok := s.dev.(blockdev.Syncer); ok {
		if err := sy.Sync(); err != nil {
			return fmt.Errorf("sync device: %w", err)
		}
	}
	s.closed = true
	s.buf = nil
	runtime.SetFinalizer(s, nil)

	pkg.LogDebug(pkg.ComponentStream, "stream closed",
		"read", humanize.IBytes(s.bytesRead),
		"written", humanize.IBytes(s.bytesWritten),
		"flushes", s.flushes)
	return nil
}
