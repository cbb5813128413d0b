package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusError, "error"},
		{TransferStatusStall, "stall"},
		{TransferStatusNAK, "nak"},
		{TransferStatusTimeout, "timeout"},
		{TransferStatusCancelled, "cancelled"},
		{TransferStatusOverrun, "overrun"},
		{TransferStatusNoDevice, "no device"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("TransferStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransferStatus_Error(t *testing.T) {
	tests := []struct {
		status  TransferStatus
		wantErr error
	}{
		{TransferStatusSuccess, nil},
		{TransferStatusStall, ErrStall},
		{TransferStatusNAK, ErrNAK},
		{TransferStatusTimeout, ErrTimeout},
		{TransferStatusCancelled, ErrCancelled},
		{TransferStatusOverrun, ErrOverrun},
		{TransferStatusNoDevice, ErrNoDevice},
		{TransferStatusError, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("TransferStatus.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("TransferStatus.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want TransferStatus
	}{
		{"nil", nil, TransferStatusSuccess},
		{"stall", ErrStall, TransferStatusStall},
		{"wrapped timeout", fmt.Errorf("bulk in: %w", ErrTimeout), TransferStatusTimeout},
		{"detached", fmt.Errorf("open: %w", ErrNoDevice), TransferStatusNoDevice},
		{"other", errors.New("boom"), TransferStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelErrorsDistinct(t *testing.T) {
	errs := []error{
		ErrStall, ErrNAK, ErrTimeout, ErrCancelled, ErrOverrun, ErrProtocol,
		ErrNoDevice, ErrInvalidEndpoint, ErrInvalidState, ErrBufferTooSmall,
		ErrBufferEmpty, ErrNotSupported, ErrBusy, ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch, ErrInvalidParameter,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v unexpectedly matches %v", a, b)
			}
		}
	}
}
