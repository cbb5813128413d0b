//go:build unix

package fifo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstream/pkg"
)

// FIFO names inside a device directory.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
)

// DevicePrefix starts the name of every device directory on a bus.
const DevicePrefix = "device-"

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("fifo listener closed")

// pipeConn joins the two FIFOs of one session.
type pipeConn struct {
	r, w *os.File
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) SetReadDeadline(t time.Time) error { return c.r.SetReadDeadline(t) }

func (c *pipeConn) Close() error { return errors.Join(c.w.Close(), c.r.Close()) }

// Listener is the device end of a bus directory entry.
type Listener struct {
	dir    string
	closed atomic.Bool
}

// Listen creates busDir/device-<name> with its request and response FIFOs.
func Listen(busDir, name string) (*Listener, error) {
	dir := filepath.Join(busDir, DevicePrefix+name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device directory: %w", err)
	}
	for _, f := range []string{fifoHostToDevice, fifoDeviceToHost} {
		path := filepath.Join(dir, f)
		_ = os.Remove(path)
		if err := unix.Mkfifo(path, 0o666); err != nil {
			return nil, errors.Join(fmt.Errorf("mkfifo %s: %w", f, err), os.RemoveAll(dir))
		}
	}
	pkg.LogInfo(pkg.ComponentHAL, "fifo device listening", "dir", dir)
	return &Listener{dir: dir}, nil
}

// Dir returns the device directory.
func (l *Listener) Dir() string { return l.dir }

// Accept waits for a host to [Dial] the device directory.
func (l *Listener) Accept() (io.ReadWriteCloser, error) {
	if l.closed.Load() {
		return nil, ErrListenerClosed
	}
	r, err := os.OpenFile(filepath.Join(l.dir, fifoHostToDevice), os.O_RDONLY, 0)
	if err != nil {
		if l.closed.Load() {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("open %s: %w", fifoHostToDevice, err)
	}
	if l.closed.Load() {
		return nil, errors.Join(ErrListenerClosed, r.Close())
	}
	w, err := os.OpenFile(filepath.Join(l.dir, fifoDeviceToHost), os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open %s: %w", fifoDeviceToHost, err), r.Close())
	}
	pkg.LogDebug(pkg.ComponentHAL, "fifo host connected", "dir", l.dir)
	return &pipeConn{r: r, w: w}, nil
}

// Close wakes a pending Accept and removes the device directory.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	// Opening the request FIFO for writing releases an Accept blocked in
	// open; with no reader waiting this fails with ENXIO, which is fine.
	if f, err := os.OpenFile(filepath.Join(l.dir, fifoHostToDevice), os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
		_ = f.Close()
	}
	return os.RemoveAll(l.dir)
}

// Dial connects to the device directory dir. It fails with pkg.ErrNoDevice
// if no device is waiting in Accept.
func Dial(dir string) (*Host, error) {
	w, err := os.OpenFile(filepath.Join(dir, fifoHostToDevice), os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, fmt.Errorf("%w: no device serving %s", pkg.ErrNoDevice, dir)
		}
		return nil, fmt.Errorf("open %s: %w", fifoHostToDevice, err)
	}
	r, err := os.OpenFile(filepath.Join(dir, fifoDeviceToHost), os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open %s: %w", fifoDeviceToHost, err), w.Close())
	}
	pkg.LogDebug(pkg.ComponentHAL, "fifo device dialed", "dir", dir)
	return NewHost(&pipeConn{r: r, w: w}), nil
}

// Devices lists the device directories on a bus.
func Devices(busDir string) ([]string, error) {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DevicePrefix) {
			continue
		}
		dir := filepath.Join(busDir, e.Name())
		if fi, err := os.Stat(filepath.Join(dir, fifoHostToDevice)); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
