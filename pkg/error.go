package pkg

import "errors"

// USB transport errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates the device sent more data than requested.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present (detached).
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBufferEmpty indicates a read from a drained transfer buffer.
	ErrBufferEmpty = errors.New("buffer empty")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy (e.g., interface claimed elsewhere).
	ErrBusy = errors.New("resource busy")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// TransferStatus represents the completion status of a USB transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusNAK                             // NAK received
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverrun                         // Data overrun
	TransferStatusNoDevice                        // Device detached
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusNAK:
		return "nak"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusNoDevice:
		return "no device"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusNAK:
		return ErrNAK
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusNoDevice:
		return ErrNoDevice
	default:
		return ErrProtocol
	}
}

// StatusOf classifies err into a TransferStatus.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrStall):
		return TransferStatusStall
	case errors.Is(err, ErrNAK):
		return TransferStatusNAK
	case errors.Is(err, ErrTimeout):
		return TransferStatusTimeout
	case errors.Is(err, ErrCancelled):
		return TransferStatusCancelled
	case errors.Is(err, ErrOverrun):
		return TransferStatusOverrun
	case errors.Is(err, ErrNoDevice):
		return TransferStatusNoDevice
	default:
		return TransferStatusError
	}
}
