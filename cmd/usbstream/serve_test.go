//go:build unix

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstream/host/hal/fifo"
	"github.com/ardnew/usbstream/pkg"
)

// startServe runs the serve command for one session on img and returns the
// device directory and the command's result.
func startServe(t *testing.T, img string, args ...string) (string, <-chan error) {
	t.Helper()
	bus := t.TempDir()
	done := make(chan error, 1)
	go func() {
		_, err := run(t, append([]string{"serve", "--image", img, "--bus-dir", bus, "--name", "disk", "--once"}, args...)...)
		done <- err
	}()
	dir := filepath.Join(bus, fifo.DevicePrefix+"disk")
	require.Eventually(t, func() bool {
		devs, err := fifo.Devices(bus)
		return err == nil && len(devs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	return dir, done
}

func TestServeInfo(t *testing.T) {
	dir, done := startServe(t, partitionedImage(t), "--vendor", "ACME", "--product", "Served", "--vid", "0x0781", "--pid", "0x5567")

	out, err := run(t, "info", "--fifo", dir, "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "target:      fifo "+dir)
	assert.Contains(t, out, "usb id:      0781:5567")
	assert.Contains(t, out, "product:     Served")
	assert.Contains(t, out, "blocks:      128")
	require.NoError(t, <-done)
}

func TestServeWriteRead(t *testing.T) {
	img := partitionedImage(t)
	dir, done := startServe(t, img)
	_, err := run(t, "write", "--fifo", dir, "--partition", "1", "--offset", "10", "--data", "piped", "--timeout", "5s")
	require.NoError(t, err)
	require.NoError(t, <-done)

	// The write landed in the image behind the served device.
	out, err := run(t, "read", "--image", img, "--offset", "4106", "--length", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "|piped|")
}

func TestServeReadOnly(t *testing.T) {
	dir, done := startServe(t, partitionedImage(t), "--read-only")
	_, err := run(t, "write", "--fifo", dir, "--data", "x", "--timeout", "5s")
	assert.Error(t, err)
	require.NoError(t, <-done)
}

func TestServeRequiresImage(t *testing.T) {
	_, err := run(t, "serve", "--bus-dir", t.TempDir())
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestFIFOExcludesImage(t *testing.T) {
	_, err := run(t, "info", "--fifo", t.TempDir(), "--image", partitionedImage(t))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestFIFOWithoutDevice(t *testing.T) {
	l, err := fifo.Listen(t.TempDir(), "idle")
	require.NoError(t, err)
	defer l.Close()

	_, err = run(t, "info", "--fifo", l.Dir(), "--timeout", "100ms")
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
}
