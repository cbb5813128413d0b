package stream

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// checkInvariants asserts the cache shape after every operation.
func checkInvariants(t *testing.T, s *Stream) {
	t.Helper()
	require.Contains(t, []int{0, int(s.blockSize)}, len(s.buf), "buffer is empty or one block")
	if s.dirty {
		require.NotZero(t, len(s.buf), "dirty implies loaded")
	}
	if len(s.buf) != 0 {
		require.Zero(t, s.block%s.blockSize, "cached block is aligned")
	}
}

// TestStream_RandomizedAgainstModel drives a stream with random reads,
// writes, seeks, and flushes while the device intermittently fails writes.
// A plain byte slice models the expected contents. After every step the
// stream must read back the model, and once flushing succeeds the device
// must hold the model exactly: a dirty block discarded without a
// successful flush would show up as a mismatch.
func TestStream_RandomizedAgainstModel(t *testing.T) {
	const (
		blocks = 12
		base   = 2 * bs
		steps  = 3000
	)
	size := int64((blocks - 2) * bs)

	for seed := int64(1); seed <= 8; seed++ {
		rng := rand.New(rand.NewSource(seed))
		dev := newRecordingDevice(bs, blocks)
		copy(dev.Bytes(), pattern(blocks*bs, byte(seed)))
		model := append([]byte(nil), dev.Bytes()[base:]...)

		s, err := New(dev, base)
		require.NoError(t, err)

		for step := 0; step < steps; step++ {
			if rng.Intn(10) == 0 {
				dev.failWrites = 1
			}
			pos := s.Position()

			switch op := rng.Intn(4); op {
			case 0: // write
				p := make([]byte, rng.Intn(3*bs))
				rng.Read(p)
				n, err := s.Write(p)
				copy(model[pos:], p[:n])
				require.Equal(t, pos+int64(n), s.Position())
				if err != nil {
					require.True(t, errors.Is(err, ErrFlushFailed) || errors.Is(err, ErrUnexpectedEndOfDevice), err)
				} else {
					require.Equal(t, len(p), n)
				}

			case 1: // read
				p := make([]byte, rng.Intn(3*bs))
				n, err := s.Read(p)
				if err != nil && !errors.Is(err, io.EOF) {
					require.ErrorIs(t, err, ErrFlushFailed)
				}
				end := pos + int64(n)
				require.Equal(t, model[pos:end], p[:n], "seed %d step %d", seed, step)
				require.Equal(t, end, s.Position())

			case 2: // seek
				target := rng.Int63n(size + 1)
				got, err := s.Seek(target, io.SeekStart)
				if err != nil {
					require.ErrorIs(t, err, ErrFlushFailed)
					require.Equal(t, pos, got)
					require.Equal(t, pos, s.Position())
				} else {
					require.Equal(t, target, got)
				}

			case 3: // flush
				if err := s.Flush(); err != nil {
					require.ErrorIs(t, err, ErrFlushFailed)
					require.True(t, s.Dirty())
				} else {
					require.False(t, s.Dirty())
				}
			}
			checkInvariants(t, s)
		}

		dev.failWrites = 0
		require.NoError(t, s.Close())
		require.True(t, bytes.Equal(model, dev.Bytes()[base:]), "seed %d: device diverged from model", seed)
		require.Equal(t, pattern(blocks*bs, byte(seed))[:base], dev.Bytes()[:base], "bytes before base untouched")
	}
}

// TestStream_EvictionAlwaysFlushesDirty checks that every block that was
// written is flushed exactly when the cursor leaves it.
func TestStream_EvictionAlwaysFlushesDirty(t *testing.T) {
	dev := newRecordingDevice(bs, 8)
	s, err := New(dev, 0)
	require.NoError(t, err)

	for blk := int64(0); blk < 8; blk++ {
		_, err := s.Write(bytes.Repeat([]byte{byte(blk + 1)}, bs))
		require.NoError(t, err)
		require.Len(t, dev.writes, int(blk+1), "block %d flushed on crossing", blk)
		require.False(t, s.Dirty())
	}
	require.NoError(t, s.Close())
	for blk := 0; blk < 8; blk++ {
		require.Equal(t, bytes.Repeat([]byte{byte(blk + 1)}, bs), dev.Bytes()[blk*bs:(blk+1)*bs])
	}
}
