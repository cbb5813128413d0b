package msc_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/host/class/msc/msctarget"
	"github.com/ardnew/usbstream/pkg"
	"github.com/ardnew/usbstream/stream"
)

const (
	testBlockSize = 512
	testBlocks    = 64
)

type rig struct {
	mem    *blockdev.Memory
	target *msctarget.Target
	ch     *host.DuplexChannel
	client *msc.Client
}

// newRig wires a client to a simulated drive through the endpoint locator
// and a duplex channel. The client is not initialized.
func newRig(t *testing.T, targetOpts []msctarget.Option, clientOpts ...msc.Option) *rig {
	t.Helper()
	mem := blockdev.NewMemory(testBlockSize, testBlocks)
	target, err := msctarget.New(mem, targetOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	read, write, err := host.FindDuplexPair(target.DescriptorTree(), host.MassStorageBulkOnly)
	require.NoError(t, err)
	ch, err := host.NewDuplexChannel(target, read, write, host.WithTimeout(200*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, ch.Claim())
	t.Cleanup(func() { _ = ch.Close() })

	client, err := msc.New(ch, clientOpts...)
	require.NoError(t, err)
	return &rig{mem: mem, target: target, ch: ch, client: client}
}

func newReadyRig(t *testing.T, targetOpts []msctarget.Option, clientOpts ...msc.Option) *rig {
	t.Helper()
	r := newRig(t, targetOpts, clientOpts...)
	require.NoError(t, r.client.Init())
	return r
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}

func TestNewValidation(t *testing.T) {
	_, err := msc.New(nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	r := newRig(t, nil)
	_, err = msc.New(r.ch, msc.WithLUN(16))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	_, err = msc.New(r.ch, msc.WithMaxBlocksPerTransfer(0))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	_, err = msc.New(r.ch, msc.WithReadyAttempts(-1))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestInit(t *testing.T) {
	r := newReadyRig(t, []msctarget.Option{msctarget.WithIdentity("Acme", "Stick", "0.9")})

	assert.Equal(t, testBlockSize, r.client.BlockSize())
	assert.Equal(t, uint64(testBlocks), r.client.BlockCount())
	assert.Equal(t, "Acme", r.client.Identity().Vendor())
	assert.Equal(t, "Stick", r.client.Identity().Product())
	assert.Equal(t, "0.9", r.client.Identity().Revision())
	assert.True(t, r.client.Identity().Removable())

	size, ok := blockdev.Capacity(r.client)
	assert.True(t, ok)
	assert.Equal(t, int64(testBlockSize*testBlocks), size)
}

func TestInitWaitsForUnitAttention(t *testing.T) {
	r := newRig(t, nil)
	r.target.Inject(msctarget.Faults{NotReady: 2})
	require.NoError(t, r.client.Init())

	r = newRig(t, nil, msc.WithReadyAttempts(1))
	r.target.Inject(msctarget.Faults{NotReady: 1})
	err := r.client.Init()
	var ce *msc.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint8(msc.SenseUnitAttention), ce.Sense.SenseKey)
	assert.Equal(t, byte(msc.SCSITestUnitReady), ce.Opcode)
}

func TestBlockRoundTrip(t *testing.T) {
	r := newReadyRig(t, nil)
	want := pattern(testBlockSize, 3)

	n, err := r.client.WriteBlock(5*testBlockSize, want)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, n)
	assert.True(t, r.mem.Written(5))
	assert.Equal(t, want, r.mem.Bytes()[5*testBlockSize:6*testBlockSize])

	got := make([]byte, testBlockSize)
	n, err = r.client.ReadBlock(5*testBlockSize, got)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize, n)
	assert.Equal(t, want, got)
}

func TestBlockBounds(t *testing.T) {
	r := newReadyRig(t, nil)
	p := make([]byte, testBlockSize)

	n, err := r.client.ReadBlock(testBlocks*testBlockSize, p)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = r.client.WriteBlock(testBlocks*testBlockSize, p)
	assert.ErrorIs(t, err, blockdev.ErrOutOfRange)

	_, err = r.client.ReadBlock(100, p)
	assert.ErrorIs(t, err, blockdev.ErrUnaligned)

	_, err = r.client.ReadBlock(0, p[:10])
	assert.ErrorIs(t, err, blockdev.ErrUnaligned)
}

func TestReadBlocksSplitsTransfers(t *testing.T) {
	r := newReadyRig(t, nil, msc.WithMaxBlocksPerTransfer(3))
	image := pattern(testBlocks*testBlockSize, 9)
	copy(r.mem.Bytes(), image)

	before := r.target.Commands()
	got := make([]byte, 7*testBlockSize)
	require.NoError(t, r.client.ReadBlocks(10, got))
	assert.Equal(t, image[10*testBlockSize:17*testBlockSize], got)
	assert.Equal(t, 3, r.target.Commands()-before, "7 blocks in chunks of 3")

	want := pattern(5*testBlockSize, 1)
	require.NoError(t, r.client.WriteBlocks(testBlocks-5, want))
	assert.Equal(t, want, r.mem.Bytes()[(testBlocks-5)*testBlockSize:])

	assert.ErrorIs(t, r.client.WriteBlocks(testBlocks-1, want), blockdev.ErrOutOfRange)
}

func TestCommandFailures(t *testing.T) {
	tests := []struct {
		name      string
		opts      []msctarget.Option
		faults    msctarget.Faults
		write     bool
		wantErr   error
		wantSense uint8
	}{
		{
			name:      "medium error on read",
			faults:    msctarget.Faults{MediumError: true},
			wantErr:   blockdev.ErrIOFailure,
			wantSense: msc.SenseMediumError,
		},
		{
			name:      "medium error on write",
			faults:    msctarget.Faults{MediumError: true},
			write:     true,
			wantErr:   blockdev.ErrIOFailure,
			wantSense: msc.SenseMediumError,
		},
		{
			name:      "stalled data phase",
			faults:    msctarget.Faults{StallDataIn: true},
			wantErr:   blockdev.ErrIOFailure,
			wantSense: msc.SenseMediumError,
		},
		{
			name:      "write protected",
			opts:      []msctarget.Option{msctarget.WithReadOnly()},
			write:     true,
			wantErr:   blockdev.ErrIOFailure,
			wantSense: msc.SenseDataProtect,
		},
		{
			name:    "short read",
			faults:  msctarget.Faults{ShortRead: true},
			wantErr: blockdev.ErrShortTransfer,
		},
		{
			name:    "bad CSW signature",
			faults:  msctarget.Faults{BadSignature: true},
			wantErr: pkg.ErrProtocol,
		},
		{
			name:    "bad CSW tag",
			faults:  msctarget.Faults{BadTag: true},
			wantErr: pkg.ErrProtocol,
		},
		{
			name:    "phase error",
			faults:  msctarget.Faults{PhaseError: true},
			wantErr: pkg.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReadyRig(t, tt.opts)
			r.target.Inject(tt.faults)

			p := make([]byte, testBlockSize)
			var err error
			if tt.write {
				_, err = r.client.WriteBlock(0, p)
			} else {
				_, err = r.client.ReadBlock(0, p)
			}
			require.ErrorIs(t, err, tt.wantErr)

			if tt.wantSense != 0 {
				var ce *msc.CommandError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.wantSense, ce.Sense.SenseKey)
			}
			assert.False(t, r.target.Halted(msctarget.DefaultInEndpoint), "halt cleared")
		})
	}
}

func TestRecoversAfterFailure(t *testing.T) {
	r := newReadyRig(t, nil)
	r.target.Inject(msctarget.Faults{StallDataIn: true})
	p := make([]byte, testBlockSize)
	_, err := r.client.ReadBlock(0, p)
	require.Error(t, err)

	copy(r.mem.Bytes(), pattern(testBlockSize, 4))
	_, err = r.client.ReadBlock(0, p)
	require.NoError(t, err)
	assert.Equal(t, pattern(testBlockSize, 4), p)
}

func TestUnsupportedLUN(t *testing.T) {
	r := newRig(t, []msctarget.Option{msctarget.WithMaxLUN(1)}, msc.WithLUN(1))
	err := r.client.Init()
	var ce *msc.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, byte(msc.SCSIInquiry), ce.Opcode)
	assert.Equal(t, uint8(msc.SenseIllegalRequest), ce.Sense.SenseKey)
	assert.Equal(t, uint8(msc.ASCLUNNotSupported), ce.Sense.ASC)
}

func TestStatusTimeout(t *testing.T) {
	r := newReadyRig(t, nil)
	r.target.Inject(msctarget.Faults{DropStatus: true})

	start := time.Now()
	err := r.client.TestUnitReady()
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	var te *host.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, host.DirectionIn, te.Direction)

	assert.NoError(t, r.client.TestUnitReady(), "next command runs normally")
}

func TestUnresponsiveDevice(t *testing.T) {
	r := newReadyRig(t, nil)
	r.target.Inject(msctarget.Faults{Hang: true})

	_, err := r.client.ReadBlock(0, make([]byte, testBlockSize))
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestSync(t *testing.T) {
	r := newReadyRig(t, nil)
	before := r.target.Commands()
	require.NoError(t, r.client.Sync())
	assert.Equal(t, 1, r.target.Commands()-before)
}

func TestStreamOverClient(t *testing.T) {
	r := newReadyRig(t, nil)
	base := int64(2 * testBlockSize)
	s, err := stream.New(r.client, base)
	require.NoError(t, err)

	payload := pattern(3*testBlockSize, 0x40)
	_, err = s.Seek(testBlockSize-100, io.SeekStart)
	require.NoError(t, err)
	n, err := s.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, s.Close())

	start := base + testBlockSize - 100
	assert.Equal(t, payload, r.mem.Bytes()[start:start+int64(len(payload))])
	assert.True(t, bytes.Equal(make([]byte, start), r.mem.Bytes()[:start]), "bytes before the write untouched")

	s, err = stream.New(r.client, base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	end, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(testBlocks*testBlockSize)-base, end)

	_, err = s.Seek(testBlockSize-100, io.SeekStart)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestControlRequests(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, []msctarget.Option{msctarget.WithMaxLUN(2), msctarget.WithUSBIDs(0x0781, 0x5567)})

	tree, err := host.ReadDescriptorTree(ctx, r.target)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0781), tree.Device.VendorID)
	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly, host.RequireBulk())
	require.NoError(t, err)
	assert.Equal(t, r.ch.ReadEndpoint(), read)
	assert.Equal(t, r.ch.WriteEndpoint(), write)

	lun, err := msc.GetMaxLUN(ctx, r.target, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), lun)

	r.target.Inject(msctarget.Faults{StallDataIn: true})
	_, err = r.client.Inquiry()
	require.Error(t, err)
	require.NoError(t, msc.ResetRecovery(ctx, r.target, 0, r.ch))
	assert.False(t, r.target.Halted(msctarget.DefaultInEndpoint))
	_, err = r.client.Inquiry()
	assert.NoError(t, err)
}
