// Package blockdev defines the block-addressed device consumed by the
// stream layer, together with in-memory and file-backed implementations.
//
// A [Device] moves exactly one block per call. Offsets are byte offsets and
// must be multiples of [Device.BlockSize]. Reading at or beyond the end of
// the device yields zero bytes and [io.EOF]:
//
//	dev := blockdev.NewMemory(512, 2048)
//	block := make([]byte, dev.BlockSize())
//	n, err := dev.ReadBlock(0, block)
//
// The USB mass-storage client in host/class/msc also implements [Device].
package blockdev
