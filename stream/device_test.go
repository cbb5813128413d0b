package stream

import (
	"github.com/ardnew/usbstream/blockdev"
)

// recordingDevice wraps a memory device, recording block offsets and
// optionally failing writes.
type recordingDevice struct {
	*blockdev.Memory

	reads  []int64
	writes []int64
	syncs  int

	failWrites int   // fail this many upcoming writes
	failErr    error // error returned for failed writes
	shortRead  bool  // return half a block from ReadBlock
	syncErr    error
}

func newRecordingDevice(blockSize int, blocks uint64) *recordingDevice {
	return &recordingDevice{
		Memory:  blockdev.NewMemory(blockSize, blocks),
		failErr: blockdev.ErrIOFailure,
	}
}

func (d *recordingDevice) ReadBlock(off int64, p []byte) (int, error) {
	d.reads = append(d.reads, off)
	n, err := d.Memory.ReadBlock(off, p)
	if d.shortRead && n > 0 {
		return n / 2, nil
	}
	return n, err
}

func (d *recordingDevice) WriteBlock(off int64, p []byte) (int, error) {
	if d.failWrites > 0 {
		d.failWrites--
		return 0, d.failErr
	}
	d.writes = append(d.writes, off)
	return d.Memory.WriteBlock(off, p)
}

func (d *recordingDevice) Sync() error {
	d.syncs++
	return d.syncErr
}

// unsizedDevice hides BlockCount and Sync from the stream.
type unsizedDevice struct {
	mem *blockdev.Memory
}

func (d unsizedDevice) BlockSize() int { return d.mem.BlockSize() }

func (d unsizedDevice) ReadBlock(off int64, p []byte) (int, error) {
	return d.mem.ReadBlock(off, p)
}

func (d unsizedDevice) WriteBlock(off int64, p []byte) (int, error) {
	return d.mem.WriteBlock(off, p)
}

// pattern returns n bytes whose values depend on their index and seed.
func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7) ^ seed
	}
	return p
}
