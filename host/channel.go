package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// DefaultTimeout bounds each physical transfer unless overridden with
// [WithTimeout].
const DefaultTimeout = 30 * time.Second

// TransferError reports a failed physical transfer on a duplex channel.
type TransferError struct {
	Direction Direction
	Endpoint  uint8
	Err       error
}

// Error implements error.
func (e *TransferError) Error() string {
	return fmt.Sprintf("bulk %s transfer on endpoint %#02x: %v", e.Direction, e.Endpoint, e.Err)
}

// Unwrap returns the transport cause.
func (e *TransferError) Unwrap() error { return e.Err }

// ChannelOption configures a [DuplexChannel] at construction.
type ChannelOption interface {
	apply(*channelConfig) error
}

type channelConfig struct {
	timeout time.Duration
}

type chanOptFunc struct {
	name string
	f    func(*channelConfig) error
}

func (o *chanOptFunc) apply(c *channelConfig) error {
	if err := o.f(c); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	return nil
}

func newChanOptFunc(name string, f func(*channelConfig) error) *chanOptFunc {
	return &chanOptFunc{name: name, f: f}
}

// WithTimeout sets the per-transfer timeout. It must be positive.
func WithTimeout(d time.Duration) ChannelOption {
	return newChanOptFunc("WithTimeout", func(c *channelConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout %v", pkg.ErrInvalidParameter, d)
		}
		c.timeout = d
		return nil
	})
}

// DuplexChannel performs ordered, timeout-bound byte exchanges over one
// read endpoint and one write endpoint. Each call issues exactly one
// physical transfer and never retries.
//
// A DuplexChannel is not safe for concurrent use.
type DuplexChannel struct {
	transport hal.Transport
	read      Endpoint
	write     Endpoint
	timeout   time.Duration
	claimed   bool
}

// NewDuplexChannel binds transport to the given endpoint pair, typically
// the result of [FindDuplexPair].
func NewDuplexChannel(transport hal.Transport, read, write Endpoint, opts ...ChannelOption) (*DuplexChannel, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", pkg.ErrInvalidParameter)
	}
	if read.Direction != DirectionIn || write.Direction != DirectionOut {
		return nil, fmt.Errorf("%w: read %s, write %s", pkg.ErrInvalidEndpoint, read, write)
	}
	cfg := channelConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}
	return &DuplexChannel{
		transport: transport,
		read:      read,
		write:     write,
		timeout:   cfg.timeout,
	}, nil
}

// Timeout returns the per-transfer timeout.
func (c *DuplexChannel) Timeout() time.Duration { return c.timeout }

// ReadEndpoint returns the IN endpoint.
func (c *DuplexChannel) ReadEndpoint() Endpoint { return c.read }

// WriteEndpoint returns the OUT endpoint.
func (c *DuplexChannel) WriteEndpoint() Endpoint { return c.write }

// InTransfer requests sink.CapacityHint() bytes from the read endpoint and
// appends the bytes actually received to sink, in order. It returns the
// number of bytes received.
func (c *DuplexChannel) InTransfer(sink pkg.Buffer) (int, error) {
	staging := make([]byte, sink.CapacityHint())
	n, err := c.transfer(c.read, staging)
	if err != nil {
		return 0, &TransferError{Direction: DirectionIn, Endpoint: c.read.Address, Err: err}
	}
	if _, err := sink.Write(staging[:n]); err != nil {
		return 0, &TransferError{Direction: DirectionIn, Endpoint: c.read.Address, Err: err}
	}
	return n, nil
}

// OutTransfer drains source and sends its bytes to the write endpoint in a
// single transfer. It returns the number of bytes the device accepted.
func (c *DuplexChannel) OutTransfer(source pkg.Buffer) (int, error) {
	staging := make([]byte, source.Len())
	if _, err := io.ReadFull(source, staging); err != nil {
		return 0, &TransferError{Direction: DirectionOut, Endpoint: c.write.Address, Err: err}
	}
	n, err := c.transfer(c.write, staging)
	if err != nil {
		return n, &TransferError{Direction: DirectionOut, Endpoint: c.write.Address, Err: err}
	}
	return n, nil
}

type transferResult struct {
	n   int
	err error
}

// transfer runs one bulk transfer bounded by the channel timeout. The
// transport sees the deadline through its context; if it fails to return in
// time the call is abandoned and reported as a timeout. data must not be
// reused by the caller after a timeout.
func (c *DuplexChannel) transfer(ep Endpoint, data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan transferResult, 1)
	go func() {
		n, err := c.transport.BulkTransfer(ctx, ep.Address, data)
		done <- transferResult{n: n, err: err}
	}()

	var r transferResult
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		default:
			r = transferResult{err: pkg.ErrTimeout}
		}
	}

	if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
		r.err = pkg.ErrTimeout
	}
	if r.err == nil && r.n > len(data) {
		r.err = fmt.Errorf("%w: %d bytes for %d byte buffer", pkg.ErrOverrun, r.n, len(data))
	}

	pkg.LogDebug(pkg.ComponentTransfer, "bulk transfer",
		"endpoint", fmt.Sprintf("%#02x", ep.Address),
		"direction", ep.Direction.String(),
		"requested", len(data),
		"transferred", r.n,
		"elapsed", time.Since(start),
		"status", pkg.StatusOf(r.err).String())
	if r.err != nil {
		return 0, r.err
	}
	return r.n, nil
}

// Claim takes ownership of the channel's interface when the transport
// arbitrates ownership; otherwise it does nothing.
func (c *DuplexChannel) Claim() error {
	cl, ok := c.transport.(hal.Claimer)
	if !ok || c.claimed {
		return nil
	}
	if err := cl.Claim(c.read.Config, c.read.Interface, c.read.AltSetting); err != nil {
		return fmt.Errorf("claim interface %d: %w", c.read.Interface, err)
	}
	c.claimed = true
	return nil
}

// ClearHalt clears a halt condition on the endpoint serving dir.
func (c *DuplexChannel) ClearHalt(dir Direction) error {
	hc, ok := c.transport.(hal.HaltClearer)
	if !ok {
		return pkg.ErrNotSupported
	}
	ep := c.write
	if dir == DirectionIn {
		ep = c.read
	}
	return hc.ClearHalt(ep.Address)
}

// Close releases an interface taken by [DuplexChannel.Claim].
func (c *DuplexChannel) Close() error {
	if !c.claimed {
		return nil
	}
	c.claimed = false
	return c.transport.(hal.Claimer).Release()
}
