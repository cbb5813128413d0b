//go:build unix

package fifo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstream/pkg"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func TestListenCreatesFIFOs(t *testing.T) {
	bus := t.TempDir()
	l, err := Listen(bus, "disk")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(bus, "device-disk"), l.Dir())
	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost} {
		fi, err := os.Stat(filepath.Join(l.Dir(), name))
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode()&os.ModeNamedPipe, name)
	}

	devs, err := Devices(bus)
	require.NoError(t, err)
	assert.Equal(t, []string{l.Dir()}, devs)

	require.NoError(t, l.Close())
	_, err = os.Stat(l.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestDevicesSkipsOtherEntries(t *testing.T) {
	bus := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(bus, "device-empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bus, "device-file"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(bus, "other"), 0o755))

	devs, err := Devices(bus)
	require.NoError(t, err)
	assert.Empty(t, devs)

	_, err = Devices(filepath.Join(bus, "missing"))
	assert.Error(t, err)
}

func TestDialWithoutDevice(t *testing.T) {
	l, err := Listen(t.TempDir(), "idle")
	require.NoError(t, err)
	defer l.Close()

	_, err = Dial(l.Dir())
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
}

func TestCloseWakesAccept(t *testing.T) {
	l, err := Listen(t.TempDir(), "idle")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()
	require.NoError(t, l.Close())
	assert.ErrorIs(t, <-done, ErrListenerClosed)
}

func TestDialAndServe(t *testing.T) {
	l, err := Listen(t.TempDir(), "stub")
	require.NoError(t, err)
	defer l.Close()

	served := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()
		served <- Serve(context.Background(), conn, &stubDevice{})
	}()

	// Dial fails until Accept has the request FIFO open for reading.
	var h *Host
	require.Eventually(t, func() bool {
		h, err = Dial(l.Dir())
		return err == nil
	}, waitFor, tick)

	buf := make([]byte, 8)
	n, err := h.BulkTransfer(context.Background(), 0x81, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, h.Close())
	assert.NoError(t, <-served)
}
