package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// Device is the device side served to a [Host]. Implementations may also
// implement [hal.HaltClearer] and [hal.Claimer].
type Device interface {
	hal.Transport
	hal.ControlTransferer
}

type server struct {
	conn   io.ReadWriter
	dev    Device
	tx, rx []byte
	data   []byte
	count  [4]byte
}

// Serve answers requests from a [Host] until the host closes its end,
// which returns nil, or the connection fails. Cancelling ctx aborts
// in-flight transfers; closing conn stops Serve.
func Serve(ctx context.Context, conn io.ReadWriter, dev Device) error {
	s := &server{conn: conn, dev: dev}
	for {
		typ, payload, err := readFrame(conn, s.rx)
		s.rx = payload
		if err != nil {
			if errors.Is(err, io.EOF) {
				pkg.LogDebug(pkg.ComponentHAL, "fifo host disconnected")
				return nil
			}
			return err
		}
		if err := s.handle(ctx, typ, payload); err != nil {
			return err
		}
	}
}

// handle answers one request. Only a failure to send the response is
// returned; device errors travel to the host.
func (s *server) handle(ctx context.Context, typ uint8, p []byte) error {
	switch typ {
	case msgBulk:
		if len(p) < 9 {
			return s.fail(fmt.Errorf("%w: bulk request %d bytes", pkg.ErrProtocol, len(p)))
		}
		ep := p[0]
		tctx, cancel := withTimeout(ctx, binary.LittleEndian.Uint32(p[1:5]))
		defer cancel()
		if ep&0x80 != 0 {
			length := binary.LittleEndian.Uint32(p[5:9])
			if length > MaxPayloadSize {
				return s.fail(fmt.Errorf("%w: bulk length %d", pkg.ErrInvalidParameter, length))
			}
			return s.in(s.dev.BulkTransfer(tctx, ep, s.buffer(int(length))))
		}
		return s.out(s.dev.BulkTransfer(tctx, ep, p[9:]))

	case msgControl:
		if len(p) < setupPacketSize+4 {
			return s.fail(fmt.Errorf("%w: control request %d bytes", pkg.ErrProtocol, len(p)))
		}
		var setup hal.SetupPacket
		hal.ParseSetupPacket(p[:setupPacketSize], &setup)
		tctx, cancel := withTimeout(ctx, binary.LittleEndian.Uint32(p[setupPacketSize:]))
		defer cancel()
		if setup.IsIn() {
			return s.in(s.dev.ControlTransfer(tctx, &setup, s.buffer(int(setup.Length))))
		}
		return s.out(s.dev.ControlTransfer(tctx, &setup, p[setupPacketSize+4:]))

	case msgClearHalt:
		hc, ok := s.dev.(hal.HaltClearer)
		if !ok || len(p) != 1 {
			return s.fail(pkg.ErrNotSupported)
		}
		return s.out(0, hc.ClearHalt(p[0]))

	case msgClaim:
		if len(p) != 3 {
			return s.fail(fmt.Errorf("%w: claim request %d bytes", pkg.ErrProtocol, len(p)))
		}
		if cl, ok := s.dev.(hal.Claimer); ok {
			return s.out(0, cl.Claim(p[0], p[1], p[2]))
		}
		return s.out(0, nil)

	case msgRelease:
		if cl, ok := s.dev.(hal.Claimer); ok {
			return s.out(0, cl.Release())
		}
		return s.out(0, nil)
	}
	return s.fail(fmt.Errorf("%w: request type %#02x", pkg.ErrProtocol, typ))
}

func withTimeout(ctx context.Context, ms uint32) (context.Context, context.CancelFunc) {
	if ms == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

func (s *server) buffer(n int) []byte {
	if cap(s.data) < n {
		s.data = make([]byte, n)
	}
	return s.data[:n]
}

func (s *server) in(n int, err error) error {
	if err != nil {
		return s.fail(err)
	}
	var werr error
	s.tx, werr = writeFrame(s.conn, s.tx, msgData, s.data[:n])
	return werr
}

func (s *server) out(n int, err error) error {
	if err != nil {
		return s.fail(err)
	}
	binary.LittleEndian.PutUint32(s.count[:], uint32(n))
	var werr error
	s.tx, werr = writeFrame(s.conn, s.tx, msgCount, s.count[:])
	return werr
}

func (s *server) fail(err error) error {
	pkg.LogDebug(pkg.ComponentHAL, "fifo request failed", "error", err)
	var werr error
	s.tx, werr = writeFrame(s.conn, s.tx, msgError, []byte{errorCode(err)}, []byte(err.Error()))
	return werr
}
