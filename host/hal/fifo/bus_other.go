//go:build !unix

package fifo

import (
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/usbstream/pkg"
)

// DevicePrefix starts the name of every device directory on a bus.
const DevicePrefix = "device-"

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("fifo listener closed")

var errNoFIFOs = fmt.Errorf("%w: named pipes require a Unix system", pkg.ErrNotSupported)

// Listener is unavailable without named pipes.
type Listener struct{}

// Listen fails without named pipes.
func Listen(string, string) (*Listener, error) { return nil, errNoFIFOs }

// Dir returns "".
func (*Listener) Dir() string { return "" }

// Accept fails without named pipes.
func (*Listener) Accept() (io.ReadWriteCloser, error) { return nil, errNoFIFOs }

// Close does nothing.
func (*Listener) Close() error { return nil }

// Dial fails without named pipes.
func Dial(string) (*Host, error) { return nil, errNoFIFOs }

// Devices fails without named pipes.
func Devices(string) ([]string, error) { return nil, errNoFIFOs }
