package msctarget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

func newTarget(t *testing.T, opts ...Option) *Target {
	t.Helper()
	tg, err := New(blockdev.NewMemory(512, 16), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tg.Close() })
	return tg
}

func cbwBytes(tag uint32, cdb []byte, length uint32, in bool) []byte {
	buf := make([]byte, msc.CBWSize)
	msc.NewCBW(tag, 0, cdb, length, in).MarshalTo(buf)
	return buf
}

func readCSW(t *testing.T, tg *Target) msc.CommandStatusWrapper {
	t.Helper()
	buf := make([]byte, msc.CSWSize)
	n, err := tg.BulkTransfer(context.Background(), DefaultInEndpoint, buf)
	require.NoError(t, err)
	csw, err := msc.ParseCSW(buf[:n])
	require.NoError(t, err)
	return csw
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestCommandWithoutData(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	n, err := tg.BulkTransfer(ctx, DefaultOutEndpoint, cbwBytes(9, msc.TestUnitReadyCDB(), 0, false))
	require.NoError(t, err)
	assert.Equal(t, msc.CBWSize, n)

	csw := readCSW(t, tg)
	assert.Equal(t, uint32(9), csw.Tag)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)
	assert.Equal(t, 1, tg.Commands())
}

func TestDataInThenStatus(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	_, err := tg.BulkTransfer(ctx, DefaultOutEndpoint, cbwBytes(1, msc.ReadCapacity10CDB(), msc.ReadCapacity10Size, true))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := tg.BulkTransfer(ctx, DefaultInEndpoint, buf)
	require.NoError(t, err)
	require.Equal(t, msc.ReadCapacity10Size, n, "data phase ends before the CSW")
	capacity, err := msc.ParseReadCapacity10(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint64(16), capacity.Blocks())

	csw := readCSW(t, tg)
	assert.Zero(t, csw.DataResidue)
}

func TestDataOut(t *testing.T) {
	mem := blockdev.NewMemory(512, 16)
	tg, err := New(mem)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tg.BulkTransfer(ctx, DefaultOutEndpoint, cbwBytes(2, msc.Write10CDB(3, 2), 1024, false))
	require.NoError(t, err)

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	// Data may arrive in several transfers.
	_, err = tg.BulkTransfer(ctx, DefaultOutEndpoint, data[:300])
	require.NoError(t, err)
	_, err = tg.BulkTransfer(ctx, DefaultOutEndpoint, data[300:])
	require.NoError(t, err)

	csw := readCSW(t, tg)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)
	assert.Equal(t, data, mem.Bytes()[3*512:5*512])
	assert.Equal(t, uint(2), mem.WrittenBlocks())
}

func TestFailedDataInHaltsPipe(t *testing.T) {
	tg := newTarget(t)
	ctx := context.Background()

	_, err := tg.BulkTransfer(ctx, DefaultOutEndpoint, cbwBytes(3, msc.Read10CDB(16, 1), 512, true))
	require.NoError(t, err)
	assert.True(t, tg.Halted(DefaultInEndpoint))

	_, err = tg.BulkTransfer(ctx, DefaultInEndpoint, make([]byte, 512))
	assert.ErrorIs(t, err, pkg.ErrStall)

	require.NoError(t, tg.ClearHalt(DefaultInEndpoint))
	csw := readCSW(t, tg)
	assert.Equal(t, uint8(msc.CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(512), csw.DataResidue)

	_, err = tg.BulkTransfer(ctx, DefaultOutEndpoint, cbwBytes(4, msc.RequestSenseCDB(18), 18, true))
	require.NoError(t, err)
	buf := make([]byte, 18)
	_, err = tg.BulkTransfer(ctx, DefaultInEndpoint, buf)
	require.NoError(t, err)
	sense, err := msc.ParseSense(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(msc.SenseIllegalRequest), sense.SenseKey)
	assert.Equal(t, uint8(msc.ASCLBAOutOfRange), sense.ASC)
}

func TestInvalidCBWStallsBothPipes(t *testing.T) {
	tg := newTarget(t)
	_, err := tg.BulkTransfer(context.Background(), DefaultOutEndpoint, []byte("not a command block"))
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.True(t, tg.Halted(DefaultInEndpoint))
	assert.True(t, tg.Halted(DefaultOutEndpoint))
}

func TestUnsupportedCommand(t *testing.T) {
	tg := newTarget(t)
	cdb := []byte{0x1B, 0, 0, 0, 0, 0} // START STOP UNIT
	_, err := tg.BulkTransfer(context.Background(), DefaultOutEndpoint, cbwBytes(5, cdb, 0, false))
	require.NoError(t, err)
	assert.Equal(t, uint8(msc.CSWStatusFailed), readCSW(t, tg).Status)
}

func TestIdleInWaitsForContext(t *testing.T) {
	tg := newTarget(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tg.BulkTransfer(ctx, DefaultInEndpoint, make([]byte, msc.CSWSize))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownEndpoint(t *testing.T) {
	tg := newTarget(t)
	_, err := tg.BulkTransfer(context.Background(), 0x85, make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
	assert.ErrorIs(t, tg.ClearHalt(0x85), pkg.ErrInvalidEndpoint)
}

func TestClaim(t *testing.T) {
	tg := newTarget(t)
	assert.ErrorIs(t, tg.Release(), pkg.ErrInvalidState)
	assert.ErrorIs(t, tg.Claim(1, 1, 0), pkg.ErrInvalidParameter)
	require.NoError(t, tg.Claim(1, 0, 0))
	assert.True(t, tg.Claimed())
	assert.ErrorIs(t, tg.Claim(1, 0, 0), pkg.ErrBusy)
	require.NoError(t, tg.Release())
}

func TestClosed(t *testing.T) {
	tg := newTarget(t)
	require.NoError(t, tg.Close())
	require.NoError(t, tg.Close())
	_, err := tg.BulkTransfer(context.Background(), DefaultOutEndpoint, make([]byte, msc.CBWSize))
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
}

func TestDescriptors(t *testing.T) {
	tg := newTarget(t, WithEndpoints(0x83, 0x04), WithUSBIDs(0x1234, 0x5678), WithIdentity("Acme", "Stick", "1"))
	ctx := context.Background()

	tree, err := host.ReadDescriptorTree(ctx, tg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), tree.Device.VendorID)
	assert.Equal(t, uint16(0x5678), tree.Device.ProductID)
	assert.Equal(t, tg.DescriptorTree().Marshal(), tree.Marshal())

	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x83), read.Address)
	assert.Equal(t, uint8(0x04), write.Address)

	strs, err := host.ReadStrings(ctx, tg, tree.Device)
	require.NoError(t, err)
	assert.Equal(t, host.Strings{Manufacturer: "Acme", Product: "Stick", SerialNumber: SerialNumber}, strs)
}

func TestControlStalls(t *testing.T) {
	tg := newTarget(t)
	setup := hal.SetupPacket{
		RequestType: host.RequestTypeIn | host.RequestTypeStandard | host.RequestTypeDevice,
		Request:     host.RequestGetStatus,
		Length:      2,
	}
	_, err := tg.ControlTransfer(context.Background(), &setup, make([]byte, 2))
	assert.ErrorIs(t, err, pkg.ErrStall)
}
