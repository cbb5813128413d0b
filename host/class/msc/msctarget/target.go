package msctarget

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// Default endpoint addresses of the simulated interface.
const (
	DefaultInEndpoint  = 0x81
	DefaultOutEndpoint = 0x02
)

// Store is the medium behind a target.
type Store interface {
	blockdev.Device
	blockdev.Sizer
}

// Faults selects misbehavior for subsequent commands. Counted faults are
// consumed one command at a time.
type Faults struct {
	// NotReady answers this many TEST UNIT READY commands with UNIT ATTENTION.
	NotReady int
	// StallDataIn stalls the next data-IN phase.
	StallDataIn bool
	// MediumError fails READ and WRITE commands with MEDIUM ERROR.
	MediumError bool
	// ShortRead delivers one block less than requested by the next READ.
	ShortRead bool
	// BadSignature corrupts the signature of the next CSW.
	BadSignature bool
	// BadTag corrupts the tag of the next CSW.
	BadTag bool
	// PhaseError reports a phase error in the next CSW.
	PhaseError bool
	// DropStatus withholds the next CSW so its read never completes.
	DropStatus bool
	// Hang blocks every bulk transfer, ignoring cancellation, until the
	// target is closed.
	Hang bool
}

// Option configures a [Target].
type Option func(*Target)

// WithIdentity sets the INQUIRY vendor, product and revision strings.
func WithIdentity(vendor, product, revision string) Option {
	return func(t *Target) {
		t.inquiry = *msc.NewInquiryResponse(msc.DeviceTypeDisk, true, vendor, product, revision)
	}
}

// WithReadOnly makes the medium write-protected.
func WithReadOnly() Option {
	return func(t *Target) { t.readOnly = true }
}

// WithEndpoints sets the bulk IN and OUT endpoint addresses.
func WithEndpoints(in, out uint8) Option {
	return func(t *Target) { t.inAddr, t.outAddr = in|0x80, out&0x7F }
}

// WithUSBIDs sets the vendor and product IDs of the device descriptor.
func WithUSBIDs(vendorID, productID uint16) Option {
	return func(t *Target) { t.vendorID, t.productID = vendorID, productID }
}

// WithMaxLUN sets the value reported by Get Max LUN. Only LUN 0 carries a
// medium; commands for other units fail as illegal requests.
func WithMaxLUN(lun uint8) Option {
	return func(t *Target) { t.maxLUN = lun }
}

type phase uint8

const (
	phaseCommand phase = iota
	phaseDataOut
	phaseStatus
)

// Target is a simulated Bulk-Only mass-storage device. It implements
// [hal.Transport], [hal.ControlTransferer], [hal.Claimer] and
// [hal.HaltClearer].
type Target struct {
	mu sync.Mutex

	store    Store
	inquiry  msc.InquiryResponse
	readOnly bool
	maxLUN   uint8

	vendorID, productID uint16
	inAddr, outAddr     uint8

	phase   phase
	cbw     msc.CommandBlockWrapper
	pending [][]byte // IN segments: data phase, then CSW
	dataOut []byte
	sense   msc.SenseData
	halted  map[uint8]bool

	faults  Faults
	hung    chan struct{}
	closed  bool
	claimed bool

	commands int
}

var (
	_ hal.Transport         = (*Target)(nil)
	_ hal.ControlTransferer = (*Target)(nil)
	_ hal.Claimer           = (*Target)(nil)
	_ hal.HaltClearer       = (*Target)(nil)
)

// New returns a target serving store.
func New(store Store, opts ...Option) (*Target, error) {
	if store == nil || store.BlockSize() <= 0 {
		return nil, fmt.Errorf("%w: store", pkg.ErrInvalidParameter)
	}
	t := &Target{
		store:     store,
		inquiry:   *msc.NewInquiryResponse(msc.DeviceTypeDisk, true, "usbstrm", "Flash Disk", "1.00"),
		vendorID:  0x1d6b,
		productID: 0x0104,
		inAddr:    DefaultInEndpoint,
		outAddr:   DefaultOutEndpoint,
		halted:    make(map[uint8]bool),
		hung:      make(chan struct{}),
		sense:     msc.NewSenseData(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Inject replaces the active fault set.
func (t *Target) Inject(f Faults) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = f
}

// Commands returns the number of CBWs accepted so far.
func (t *Target) Commands() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commands
}

// Halted reports whether the endpoint is stalled.
func (t *Target) Halted(addr uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted[addr]
}

// Close releases transfers blocked by [Faults.Hang]. Further transfers
// fail with [pkg.ErrNoDevice].
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.hung)
	}
	return nil
}

// BulkTransfer implements [hal.Transport].
func (t *Target) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	t.mu.Lock()
	if t.faults.Hang && !t.closed {
		t.mu.Unlock()
		<-t.hung
		return 0, pkg.ErrNoDevice
	}
	if t.closed {
		t.mu.Unlock()
		return 0, pkg.ErrNoDevice
	}
	if t.halted[endpoint] {
		t.mu.Unlock()
		return 0, pkg.ErrStall
	}

	switch endpoint {
	case t.outAddr:
		defer t.mu.Unlock()
		return t.receive(data)
	case t.inAddr:
		if len(t.pending) == 0 {
			t.mu.Unlock()
			<-ctx.Done()
			return 0, ctx.Err()
		}
		defer t.mu.Unlock()
		return t.send(data), nil
	default:
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidEndpoint, endpoint)
	}
}

// send moves the head of the pending IN queue into data.
func (t *Target) send(data []byte) int {
	seg := t.pending[0]
	n := copy(data, seg)
	if n < len(seg) {
		t.pending[0] = seg[n:]
	} else {
		t.pending = t.pending[1:]
	}
	if len(t.pending) == 0 && t.phase == phaseStatus {
		t.phase = phaseCommand
	}
	return n
}

// receive consumes an OUT transfer: a CBW in the command phase, otherwise
// data for the pending command.
func (t *Target) receive(data []byte) (int, error) {
	switch t.phase {
	case phaseDataOut:
		t.dataOut = append(t.dataOut, data...)
		if uint32(len(t.dataOut)) >= t.cbw.DataTransferLength {
			t.complete(t.handleDataOut())
		}
		return len(data), nil
	case phaseStatus:
		// A CBW while status is outstanding is a host phase error.
		t.halted[t.inAddr] = true
		t.halted[t.outAddr] = true
		return 0, pkg.ErrStall
	}

	cbw, err := msc.ParseCBW(data)
	if err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW", "error", err)
		t.halted[t.inAddr] = true
		t.halted[t.outAddr] = true
		return 0, pkg.ErrStall
	}
	t.cbw = cbw
	t.commands++

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", cbw.Tag,
		"dataLen", cbw.DataTransferLength,
		"flags", cbw.Flags,
		"lun", cbw.LUN,
		"opcode", cbw.Opcode())

	if !cbw.IsDataIn() && cbw.DataTransferLength > 0 {
		t.phase = phaseDataOut
		t.dataOut = t.dataOut[:0]
		return len(data), nil
	}

	status, residue := t.handleSCSICommand()
	if cbw.IsDataIn() && cbw.DataTransferLength > 0 {
		status, residue = t.endDataIn(status, residue)
	}
	t.complete(status, residue)
	return len(data), nil
}

// endDataIn terminates a data-IN phase. A phase that moved no data, or
// that a fault stalls, ends with a halted IN pipe the host must clear
// before reading the CSW.
func (t *Target) endDataIn(status uint8, residue uint32) (uint8, uint32) {
	if t.faults.StallDataIn {
		t.faults.StallDataIn = false
		t.pending = nil
		t.setSense(msc.SenseMediumError, msc.ASCUnrecoveredReadError, 0)
		status, residue = msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	if residue == t.cbw.DataTransferLength {
		t.halted[t.inAddr] = true
	}
	return status, residue
}

// complete queues the CSW for the current command.
func (t *Target) complete(status uint8, residue uint32) {
	t.phase = phaseStatus
	csw := msc.NewCSW(t.cbw.Tag, residue, status)
	if t.faults.PhaseError {
		t.faults.PhaseError = false
		csw.Status = msc.CSWStatusPhaseError
	}
	if t.faults.BadTag {
		t.faults.BadTag = false
		csw.Tag = ^csw.Tag
	}
	if t.faults.BadSignature {
		t.faults.BadSignature = false
		csw.Signature = msc.CBWSignature
	}
	if t.faults.DropStatus {
		t.faults.DropStatus = false
		t.phase = phaseCommand
		pkg.LogDebug(pkg.ComponentMSC, "CSW withheld", "tag", t.cbw.Tag)
		return
	}
	buf := make([]byte, msc.CSWSize)
	csw.MarshalTo(buf)
	t.pending = append(t.pending, buf)

	pkg.LogDebug(pkg.ComponentMSC, "CSW queued",
		"tag", csw.Tag,
		"residue", residue,
		"status", csw.Status)
}

// sendData queues a data-IN segment.
func (t *Target) sendData(data []byte) {
	if len(data) > 0 {
		t.pending = append(t.pending, append([]byte(nil), data...))
	}
}

// ClearHalt implements [hal.HaltClearer].
func (t *Target) ClearHalt(endpoint uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if endpoint != t.inAddr && endpoint != t.outAddr {
		return fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	delete(t.halted, endpoint)
	return nil
}

// Claim implements [hal.Claimer].
func (t *Target) Claim(config, iface, alt uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		return pkg.ErrBusy
	}
	if config != 1 || iface != 0 || alt != 0 {
		return fmt.Errorf("%w: configuration %d interface %d alt %d", pkg.ErrInvalidParameter, config, iface, alt)
	}
	t.claimed = true
	return nil
}

// Release implements [hal.Claimer].
func (t *Target) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.claimed {
		return pkg.ErrInvalidState
	}
	t.claimed = false
	return nil
}

// Claimed reports whether the interface is claimed.
func (t *Target) Claimed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimed
}

// resetLocked returns the transport to the command phase.
func (t *Target) resetLocked() {
	t.phase = phaseCommand
	t.pending = nil
	t.dataOut = t.dataOut[:0]
	t.sense = msc.NewSenseData(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
}
