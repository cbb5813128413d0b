package msc

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/pkg"
)

// DefaultReadyAttempts is the number of TEST UNIT READY commands issued by
// [Client.Init] while the unit reports a transient condition.
const DefaultReadyAttempts = 3

// Channel carries Bulk-Only Transport traffic. [*host.DuplexChannel]
// implements it.
type Channel interface {
	InTransfer(sink pkg.Buffer) (int, error)
	OutTransfer(source pkg.Buffer) (int, error)
}

// haltClearer is implemented by channels that can recover a stalled pipe.
type haltClearer interface {
	ClearHalt(dir host.Direction) error
}

// CommandError reports a SCSI command that completed with a failed status.
type CommandError struct {
	Opcode byte
	Status uint8
	Sense  SenseData
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("scsi command %#02x failed: %s", e.Opcode, e.Sense)
}

// Unwrap reports the failure as a block I/O failure.
func (e *CommandError) Unwrap() error { return blockdev.ErrIOFailure }

// Option configures a [Client] at construction.
type Option interface {
	apply(*clientConfig) error
}

type clientConfig struct {
	lun           uint8
	maxBlocks     int
	readyAttempts int
}

type optFunc struct {
	name string
	f    func(*clientConfig) error
}

func (o *optFunc) apply(c *clientConfig) error {
	if err := o.f(c); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	return nil
}

func newOptFunc(name string, f func(*clientConfig) error) *optFunc {
	return &optFunc{name: name, f: f}
}

// WithLUN selects the logical unit addressed by every command.
func WithLUN(lun uint8) Option {
	return newOptFunc("WithLUN", func(c *clientConfig) error {
		if lun > 0x0F {
			return fmt.Errorf("%w: LUN %d", pkg.ErrInvalidParameter, lun)
		}
		c.lun = lun
		return nil
	})
}

// WithMaxBlocksPerTransfer bounds the blocks moved by one READ or WRITE
// command in [Client.ReadBlocks] and [Client.WriteBlocks]. The default
// keeps each data phase within [MaxTransferSize].
func WithMaxBlocksPerTransfer(n int) Option {
	return newOptFunc("WithMaxBlocksPerTransfer", func(c *clientConfig) error {
		if n <= 0 || n > 0xFFFF {
			return fmt.Errorf("%w: %d blocks per transfer", pkg.ErrInvalidParameter, n)
		}
		c.maxBlocks = n
		return nil
	})
}

// WithReadyAttempts sets how many times [Client.Init] polls a unit that
// reports NOT READY or UNIT ATTENTION.
func WithReadyAttempts(n int) Option {
	return newOptFunc("WithReadyAttempts", func(c *clientConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: %d ready attempts", pkg.ErrInvalidParameter, n)
		}
		c.readyAttempts = n
		return nil
	})
}

// Client drives one logical unit of a Bulk-Only mass-storage device.
// It implements [blockdev.Device], [blockdev.Sizer] and [blockdev.Syncer]
// once [Client.Init] has succeeded.
//
// A Client is not safe for concurrent use.
type Client struct {
	ch  Channel
	cfg clientConfig
	tag uint32

	blockSize  int
	blockCount uint64
	inquiry    InquiryResponse
}

var (
	_ blockdev.Device = (*Client)(nil)
	_ blockdev.Sizer  = (*Client)(nil)
	_ blockdev.Syncer = (*Client)(nil)
	_ Channel         = (*host.DuplexChannel)(nil)
)

// New returns a client issuing commands over ch.
func New(ch Channel, opts ...Option) (*Client, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", pkg.ErrInvalidParameter)
	}
	cfg := clientConfig{readyAttempts: DefaultReadyAttempts}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}
	return &Client{ch: ch, cfg: cfg}, nil
}

// Init identifies the unit, waits for it to become ready and reads its
// capacity.
func (c *Client) Init() error {
	inq, err := c.Inquiry()
	if err != nil {
		return fmt.Errorf("inquiry: %w", err)
	}
	if inq.DeviceType != DeviceTypeDisk && inq.DeviceType != DeviceTypeCDROM {
		return fmt.Errorf("%w: peripheral device type %#02x", pkg.ErrNotSupported, inq.DeviceType)
	}
	if err := c.waitReady(); err != nil {
		return fmt.Errorf("test unit ready: %w", err)
	}
	capacity, err := c.ReadCapacity()
	if err != nil {
		return fmt.Errorf("read capacity: %w", err)
	}
	if capacity.BlockLength == 0 {
		return fmt.Errorf("%w: zero block length", pkg.ErrProtocol)
	}
	c.blockSize = int(capacity.BlockLength)
	c.blockCount = capacity.Blocks()
	if c.cfg.maxBlocks == 0 {
		c.cfg.maxBlocks = max(1, MaxTransferSize/c.blockSize)
	}

	pkg.LogInfo(pkg.ComponentMSC, "logical unit ready",
		"lun", c.cfg.lun,
		"vendor", inq.Vendor(),
		"product", inq.Product(),
		"blockSize", c.blockSize,
		"blocks", c.blockCount,
		"capacity", humanize.IBytes(c.blockCount*uint64(c.blockSize)))
	return nil
}

func (c *Client) waitReady() error {
	var err error
	for attempt := 0; attempt < c.cfg.readyAttempts; attempt++ {
		if err = c.TestUnitReady(); err == nil {
			return nil
		}
		var ce *CommandError
		if !errors.As(err, &ce) {
			return err
		}
		if ce.Sense.SenseKey != SenseUnitAttention && ce.Sense.SenseKey != SenseNotReady {
			return err
		}
		pkg.LogDebug(pkg.ComponentMSC, "unit not ready", "attempt", attempt+1, "sense", ce.Sense.String())
	}
	return err
}

// LUN returns the addressed logical unit.
func (c *Client) LUN() uint8 { return c.cfg.lun }

// Identity returns the INQUIRY data captured by the last successful
// [Client.Inquiry].
func (c *Client) Identity() InquiryResponse { return c.inquiry }

// BlockSize implements [blockdev.Device]. It is zero before [Client.Init].
func (c *Client) BlockSize() int { return c.blockSize }

// BlockCount implements [blockdev.Sizer].
func (c *Client) BlockCount() uint64 { return c.blockCount }

// Inquiry issues a standard INQUIRY.
func (c *Client) Inquiry() (InquiryResponse, error) {
	data := make([]byte, InquiryStandardSize)
	if _, err := c.command(InquiryCDB(InquiryStandardSize), true, data); err != nil {
		return InquiryResponse{}, err
	}
	inq, err := ParseInquiry(data)
	if err != nil {
		return InquiryResponse{}, err
	}
	c.inquiry = inq
	return inq, nil
}

// TestUnitReady issues TEST UNIT READY.
func (c *Client) TestUnitReady() error {
	_, err := c.command(TestUnitReadyCDB(), false, nil)
	return err
}

// RequestSense fetches the sense data of the last failed command.
func (c *Client) RequestSense() (SenseData, error) {
	data := make([]byte, SenseFixedSize)
	if _, err := c.command(RequestSenseCDB(SenseFixedSize), true, data); err != nil {
		return SenseData{}, err
	}
	return ParseSense(data)
}

// ReadCapacity issues READ CAPACITY (10).
func (c *Client) ReadCapacity() (ReadCapacity10Response, error) {
	data := make([]byte, ReadCapacity10Size)
	if _, err := c.command(ReadCapacity10CDB(), true, data); err != nil {
		return ReadCapacity10Response{}, err
	}
	return ParseReadCapacity10(data)
}

// ReadBlock implements [blockdev.Device].
func (c *Client) ReadBlock(off int64, p []byte) (int, error) {
	if err := blockdev.CheckAccess(off, p, c.blockSize); err != nil {
		return 0, err
	}
	lba := uint64(off) / uint64(c.blockSize)
	if lba >= c.blockCount {
		return 0, io.EOF
	}
	if err := c.ReadBlocks(lba, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBlock implements [blockdev.Device].
func (c *Client) WriteBlock(off int64, p []byte) (int, error) {
	if err := blockdev.CheckAccess(off, p, c.blockSize); err != nil {
		return 0, err
	}
	if err := c.WriteBlocks(uint64(off)/uint64(c.blockSize), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadBlocks reads len(p)/BlockSize consecutive blocks starting at lba,
// splitting the request into commands of at most the configured transfer
// size.
func (c *Client) ReadBlocks(lba uint64, p []byte) error {
	return c.rw(lba, p, true)
}

// WriteBlocks writes len(p)/BlockSize consecutive blocks starting at lba.
func (c *Client) WriteBlocks(lba uint64, p []byte) error {
	return c.rw(lba, p, false)
}

func (c *Client) rw(lba uint64, p []byte, in bool) error {
	if c.blockSize <= 0 || len(p)%c.blockSize != 0 {
		return fmt.Errorf("%w: buffer length %d (block size %d)", blockdev.ErrUnaligned, len(p), c.blockSize)
	}
	count := uint64(len(p) / c.blockSize)
	if lba+count > c.blockCount || lba+count > 1<<32 {
		return fmt.Errorf("%w: blocks [%d, %d) of %d", blockdev.ErrOutOfRange, lba, lba+count, c.blockCount)
	}
	for count > 0 {
		n := min(count, uint64(c.cfg.maxBlocks))
		chunk := p[:n*uint64(c.blockSize)]
		var cdb []byte
		if in {
			cdb = Read10CDB(uint32(lba), uint16(n))
		} else {
			cdb = Write10CDB(uint32(lba), uint16(n))
		}
		residue, err := c.command(cdb, in, chunk)
		if err != nil {
			return fmt.Errorf("lba %d: %w", lba, err)
		}
		if residue != 0 {
			return fmt.Errorf("lba %d: %w: residue %d of %d bytes", lba, blockdev.ErrShortTransfer, residue, len(chunk))
		}
		p = p[len(chunk):]
		lba += n
		count -= n
	}
	return nil
}

// Sync implements [blockdev.Syncer] with SYNCHRONIZE CACHE (10). Units
// that reject the command as illegal have no cache to flush.
func (c *Client) Sync() error {
	_, err := c.command(SynchronizeCache10CDB(), false, nil)
	var ce *CommandError
	if errors.As(err, &ce) && ce.Sense.SenseKey == SenseIllegalRequest {
		pkg.LogDebug(pkg.ComponentMSC, "synchronize cache not supported", "sense", ce.Sense.String())
		return nil
	}
	return err
}

// Close closes the underlying channel when it supports closing.
func (c *Client) Close() error {
	if cl, ok := c.ch.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// command runs one Bulk-Only Transport exchange. data is the data phase
// buffer, filled for IN commands and sent for OUT commands. It returns the
// residue reported by the CSW.
func (c *Client) command(cdb []byte, in bool, data []byte) (uint32, error) {
	c.tag++
	cbw := NewCBW(c.tag, c.cfg.lun, cdb, uint32(len(data)), in)
	raw := make([]byte, CBWSize)
	cbw.MarshalTo(raw)

	pkg.LogDebug(pkg.ComponentMSC, "CBW",
		"tag", cbw.Tag,
		"opcode", fmt.Sprintf("%#02x", cbw.Opcode()),
		"dataLen", cbw.DataTransferLength,
		"in", in)

	n, err := c.ch.OutTransfer(pkg.NewTransferBufferFrom(raw))
	if err != nil {
		return 0, fmt.Errorf("command transport: %w", err)
	}
	if n != CBWSize {
		return 0, fmt.Errorf("%w: CBW accepted %d of %d bytes", pkg.ErrProtocol, n, CBWSize)
	}

	if len(data) > 0 {
		if err := c.dataPhase(in, data); err != nil {
			return 0, err
		}
	}

	csw, err := c.status()
	if err != nil {
		return 0, err
	}
	if csw.Tag != cbw.Tag {
		return 0, fmt.Errorf("%w: CSW tag %d for CBW tag %d", pkg.ErrProtocol, csw.Tag, cbw.Tag)
	}

	switch csw.Status {
	case CSWStatusGood:
		return csw.DataResidue, nil
	case CSWStatusFailed:
		ce := &CommandError{Opcode: cbw.Opcode(), Status: csw.Status}
		if cbw.Opcode() != SCSIRequestSense {
			if sense, err := c.RequestSense(); err == nil {
				ce.Sense = sense
			}
		}
		pkg.LogDebug(pkg.ComponentMSC, "command failed", "tag", cbw.Tag, "error", ce.Error())
		return csw.DataResidue, ce
	default:
		return 0, fmt.Errorf("%w: CSW status %#02x", pkg.ErrProtocol, csw.Status)
	}
}

// dataPhase moves data in the given direction. A stalled pipe is cleared
// so the CSW can still be read.
func (c *Client) dataPhase(in bool, data []byte) error {
	var err error
	if in {
		sink := pkg.NewTransferBuffer(len(data))
		if _, err = c.ch.InTransfer(sink); err == nil {
			copy(data, sink.Bytes())
		}
	} else {
		_, err = c.ch.OutTransfer(pkg.NewTransferBufferFrom(data))
	}
	if err == nil {
		return nil
	}
	if !errors.Is(err, pkg.ErrStall) {
		return fmt.Errorf("data transport: %w", err)
	}
	if cerr := c.clearHalt(in); cerr != nil {
		return fmt.Errorf("data transport: %w", errors.Join(err, cerr))
	}
	return nil
}

// status reads the CSW, clearing a stalled IN pipe and retrying once.
func (c *Client) status() (CommandStatusWrapper, error) {
	sink := pkg.NewTransferBuffer(CSWSize)
	_, err := c.ch.InTransfer(sink)
	if err != nil && errors.Is(err, pkg.ErrStall) {
		if cerr := c.clearHalt(true); cerr != nil {
			return CommandStatusWrapper{}, fmt.Errorf("status transport: %w", errors.Join(err, cerr))
		}
		sink.Reset()
		_, err = c.ch.InTransfer(sink)
	}
	if err != nil {
		return CommandStatusWrapper{}, fmt.Errorf("status transport: %w", err)
	}
	return ParseCSW(sink.Bytes())
}

func (c *Client) clearHalt(in bool) error {
	hc, ok := c.ch.(haltClearer)
	if !ok {
		return pkg.ErrNotSupported
	}
	dir := host.DirectionOut
	if in {
		dir = host.DirectionIn
	}
	pkg.LogDebug(pkg.ComponentMSC, "clearing halt", "direction", dir.String())
	return hc.ClearHalt(dir)
}
