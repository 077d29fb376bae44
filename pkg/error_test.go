package pkg

import (
	"errors"
	"testing"
)

func TestIOStatus_String(t *testing.T) {
	tests := []struct {
		status IOStatus
		want   string
	}{
		{IOStatusSuccess, "success"},
		{IOStatusError, "error"},
		{IOStatusStall, "stall"},
		{IOStatusCancelled, "cancelled"},
		{IOStatusOverflow, "overflow"},
		{IOStatusShutdown, "shutdown"},
		{IOStatusTimeout, "timeout"},
		{IOStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("IOStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIOStatus_Err(t *testing.T) {
	tests := []struct {
		status  IOStatus
		wantErr error
	}{
		{IOStatusSuccess, nil},
		{IOStatusStall, ErrStall},
		{IOStatusCancelled, ErrCancelled},
		{IOStatusOverflow, ErrOverflow},
		{IOStatusShutdown, ErrEndpointChanged},
		{IOStatusTimeout, ErrTimeout},
		{IOStatusError, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Err()
			if tt.wantErr == nil && err != nil {
				t.Errorf("IOStatus.Err() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("IOStatus.Err() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrBadMagic,
		ErrLengthMismatch,
		ErrMalformed,
		ErrDescriptorTooShort,
		ErrTooManyEndpoints,
		ErrCountMismatch,
		ErrNotSupported,
		ErrSetupPacketTooShort,
		ErrSetupCancelled,
		ErrNoSetup,
		ErrStall,
		ErrInvalidState,
		ErrNoDevice,
		ErrWouldBlock,
		ErrEndpointChanged,
		ErrDirectionMismatch,
		ErrOverflow,
		ErrCancelled,
		ErrTimeout,
		ErrBusy,
		ErrNoResources,
		ErrNoMapping,
		ErrNotBound,
		ErrAlreadyBound,
		ErrClosed,
		ErrInvalidRequest,
		ErrBufferTooSmall,
		ErrProtocol,
	}

	seen := make(map[string]bool)
	for _, err := range errs {
		if err == nil {
			t.Fatal("nil sentinel error")
		}
		msg := err.Error()
		if seen[msg] {
			t.Errorf("duplicate error message: %q", msg)
		}
		seen[msg] = true
	}
}
