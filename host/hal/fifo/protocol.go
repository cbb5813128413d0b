package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/usbstream/pkg"
)

// Message types.
const (
	msgControl   = 0x01
	msgBulk      = 0x02
	msgClearHalt = 0x03
	msgClaim     = 0x04
	msgRelease   = 0x05

	msgData  = 0x80
	msgCount = 0x81
	msgError = 0x82
)

// Frame and payload sizes.
const (
	headerSize      = 5 // type + length
	setupPacketSize = 8

	// MaxPayloadSize bounds a single message payload.
	MaxPayloadSize = 1 << 20
)

// Error codes carried by msgError. Each maps to a pkg sentinel so callers
// on the host side match errors the same way as with a physical transport.
const (
	codeOther = iota
	codeStall
	codeTimeout
	codeNoDevice
	codeBusy
	codeNotSupported
	codeInvalidParameter
	codeInvalidState
	codeProtocol
	codeCancelled
	codeOverrun
	codeInvalidEndpoint
)

var codeErrors = [...]error{
	codeStall:            pkg.ErrStall,
	codeTimeout:          pkg.ErrTimeout,
	codeNoDevice:         pkg.ErrNoDevice,
	codeBusy:             pkg.ErrBusy,
	codeNotSupported:     pkg.ErrNotSupported,
	codeInvalidParameter: pkg.ErrInvalidParameter,
	codeInvalidState:     pkg.ErrInvalidState,
	codeProtocol:         pkg.ErrProtocol,
	codeCancelled:        pkg.ErrCancelled,
	codeOverrun:          pkg.ErrOverrun,
	codeInvalidEndpoint:  pkg.ErrInvalidEndpoint,
}

// ErrRemote wraps errors reported by the device side that have no sentinel.
var ErrRemote = errors.New("remote error")

func errorCode(err error) uint8 {
	if errors.Is(err, context.DeadlineExceeded) {
		return codeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return codeCancelled
	}
	for code, sentinel := range codeErrors {
		if sentinel != nil && errors.Is(err, sentinel) {
			return uint8(code)
		}
	}
	return codeOther
}

func codeError(code uint8, msg string) error {
	if int(code) < len(codeErrors) && codeErrors[code] != nil {
		return fmt.Errorf("%w: %s", codeErrors[code], msg)
	}
	return fmt.Errorf("%w: %s", ErrRemote, msg)
}

// writeFrame writes one message. The header and payload go out in a single
// write so a message is never interleaved on a pipe.
func writeFrame(w io.Writer, buf []byte, typ uint8, payload ...[]byte) ([]byte, error) {
	n := 0
	for _, p := range payload {
		n += len(p)
	}
	if n > MaxPayloadSize {
		return buf, fmt.Errorf("%w: payload %d bytes", pkg.ErrInvalidParameter, n)
	}
	buf = append(buf[:0], typ, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(buf[1:headerSize], uint32(n))
	for _, p := range payload {
		buf = append(buf, p...)
	}
	_, err := w.Write(buf)
	return buf, err
}

// readFrame reads one message into buf, growing it as needed.
func readFrame(r io.Reader, buf []byte) (uint8, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, buf, err
	}
	n := binary.LittleEndian.Uint32(hdr[1:])
	if n > MaxPayloadSize {
		return 0, buf, fmt.Errorf("%w: frame payload %d bytes", pkg.ErrProtocol, n)
	}
	if cap(buf) < int(n) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, buf, err
	}
	return hdr[0], buf, nil
}
