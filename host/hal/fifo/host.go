package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// DefaultGrace is how long past a transfer deadline the host waits for the
// device side to report the timeout before giving up on the connection.
const DefaultGrace = time.Second

// deadliner is implemented by connections supporting read deadlines, such
// as *os.File on a pipe and net.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Host drives a device served by [Serve] on the other end of conn.
//
// Requests are serialized. A transfer abandoned by its caller still holds
// the connection until the device answers, which keeps requests and
// responses paired. If no answer arrives within [DefaultGrace] of the
// deadline the connection is considered lost and every later call fails
// with pkg.ErrNoDevice.
type Host struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	tx, rx []byte
	lost   error
	grace  time.Duration
}

var (
	_ hal.Transport         = (*Host)(nil)
	_ hal.ControlTransferer = (*Host)(nil)
	_ hal.Claimer           = (*Host)(nil)
	_ hal.HaltClearer       = (*Host)(nil)
)

// NewHost returns a host speaking over conn.
func NewHost(conn io.ReadWriteCloser) *Host {
	return &Host{conn: conn, grace: DefaultGrace}
}

// roundTrip sends one request and passes the response to handle while the
// connection is held.
func (h *Host) roundTrip(ctx context.Context, typ uint8, handle func(typ uint8, payload []byte) (int, error), payload ...[]byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lost != nil {
		return 0, h.lost
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if d, ok := h.conn.(deadliner); ok {
		var t time.Time
		if deadline, ok := ctx.Deadline(); ok {
			t = deadline.Add(h.grace)
		}
		_ = d.SetReadDeadline(t)
	}

	var err error
	if h.tx, err = writeFrame(h.conn, h.tx, typ, payload...); err != nil {
		return 0, h.lose(err)
	}
	rtyp, body, err := readFrame(h.conn, h.rx)
	h.rx = body
	if err != nil {
		return 0, h.lose(err)
	}

	if rtyp == msgError {
		if len(body) < 1 {
			return 0, fmt.Errorf("%w: empty error response", pkg.ErrProtocol)
		}
		return 0, codeError(body[0], string(body[1:]))
	}
	return handle(rtyp, body)
}

func (h *Host) lose(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		h.lost = fmt.Errorf("%w: device stopped responding", pkg.ErrNoDevice)
		pkg.LogWarn(pkg.ComponentHAL, "fifo device stopped responding")
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	h.lost = fmt.Errorf("%w: %w", pkg.ErrNoDevice, err)
	pkg.LogWarn(pkg.ComponentHAL, "fifo connection lost", "error", err)
	return h.lost
}

// timeoutMillis returns the time left before the context deadline, or 0
// for no deadline. A passed deadline yields 1 since 0 means unbounded.
func timeoutMillis(ctx context.Context) uint32 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	ms := time.Until(deadline).Milliseconds()
	return uint32(min(max(ms, 1), int64(^uint32(0))))
}

// inOrCount completes a transfer whose response is IN data copied into
// data, or a byte count for OUT.
func inOrCount(in bool, data []byte) func(uint8, []byte) (int, error) {
	return func(typ uint8, body []byte) (int, error) {
		switch {
		case in && typ == msgData:
			if len(body) > len(data) {
				return copy(data, body), fmt.Errorf("%w: %d bytes for %d byte buffer", pkg.ErrOverrun, len(body), len(data))
			}
			return copy(data, body), nil
		case !in && typ == msgCount && len(body) == 4:
			return int(binary.LittleEndian.Uint32(body)), nil
		}
		return 0, fmt.Errorf("%w: unexpected response %#02x", pkg.ErrProtocol, typ)
	}
}

func ack(typ uint8, body []byte) (int, error) {
	if typ != msgCount {
		return 0, fmt.Errorf("%w: unexpected response %#02x", pkg.ErrProtocol, typ)
	}
	return 0, nil
}

// BulkTransfer implements [hal.Transport].
func (h *Host) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	var hdr [9]byte
	hdr[0] = endpoint
	binary.LittleEndian.PutUint32(hdr[1:5], timeoutMillis(ctx))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(data)))

	in := endpoint&0x80 != 0
	out := data
	if in {
		out = nil
	}
	n, err := h.roundTrip(ctx, msgBulk, inOrCount(in, data), hdr[:], out)
	pkg.LogDebug(pkg.ComponentHAL, "fifo bulk transfer", "endpoint", endpoint, "len", len(data), "n", n, "error", err)
	return n, err
}

// ControlTransfer implements [hal.ControlTransferer].
func (h *Host) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	var hdr [setupPacketSize + 4]byte
	setup.MarshalTo(hdr[:setupPacketSize])
	binary.LittleEndian.PutUint32(hdr[setupPacketSize:], timeoutMillis(ctx))

	in := setup.IsIn()
	out := data
	if in {
		out = nil
		if int(setup.Length) < len(data) {
			data = data[:setup.Length]
		}
	}
	return h.roundTrip(ctx, msgControl, inOrCount(in, data), hdr[:], out)
}

// ClearHalt implements [hal.HaltClearer].
func (h *Host) ClearHalt(endpoint uint8) error {
	_, err := h.roundTrip(context.Background(), msgClearHalt, ack, []byte{endpoint})
	return err
}

// Claim implements [hal.Claimer].
func (h *Host) Claim(config, iface, alt uint8) error {
	_, err := h.roundTrip(context.Background(), msgClaim, ack, []byte{config, iface, alt})
	return err
}

// Release implements [hal.Claimer].
func (h *Host) Release() error {
	_, err := h.roundTrip(context.Background(), msgRelease, ack)
	return err
}

// Close closes the connection; the device side sees end of stream. A
// transfer still waiting for its response fails.
func (h *Host) Close() error {
	err := h.conn.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = fmt.Errorf("%w: connection closed", pkg.ErrNoDevice)
	return err
}
