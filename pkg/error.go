package pkg

import "errors"

// Function engine errors.
var (
	// ErrBadMagic indicates a blob header with an unrecognized magic tag.
	ErrBadMagic = errors.New("bad magic")

	// ErrLengthMismatch indicates a blob whose declared length does not
	// match the actual buffer length.
	ErrLengthMismatch = errors.New("declared length mismatch")

	// ErrMalformed indicates input that violates the descriptor grammar.
	ErrMalformed = errors.New("malformed input")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrTooManyEndpoints indicates a descriptor set declaring more
	// endpoints than a function may claim.
	ErrTooManyEndpoints = errors.New("too many endpoints")

	// ErrCountMismatch indicates per-speed descriptor sets that disagree
	// on interface or endpoint counts.
	ErrCountMismatch = errors.New("descriptor count mismatch across speeds")

	// ErrNotSupported indicates an unsupported flag, feature, or request.
	ErrNotSupported = errors.New("not supported")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrSetupCancelled indicates the pending setup request was
	// invalidated by a lifecycle event before it was answered.
	ErrSetupCancelled = errors.New("setup request cancelled")

	// ErrNoSetup indicates no setup request is pending.
	ErrNoSetup = errors.New("no setup request pending")

	// ErrStall indicates the control endpoint was stalled in response.
	ErrStall = errors.New("endpoint stalled")

	// ErrInvalidState indicates the session is in the wrong lifecycle
	// state for the operation.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNoDevice indicates the endpoint or transport is not available.
	ErrNoDevice = errors.New("device not available")

	// ErrWouldBlock indicates a non-blocking operation that would block.
	ErrWouldBlock = errors.New("operation would block")

	// ErrEndpointChanged indicates the endpoint was reconfigured while
	// the operation was in flight.
	ErrEndpointChanged = errors.New("endpoint changed during operation")

	// ErrDirectionMismatch indicates an I/O request against the
	// endpoint's transfer direction.
	ErrDirectionMismatch = errors.New("transfer direction mismatch")

	// ErrOverflow indicates a completion larger than the caller's buffer.
	ErrOverflow = errors.New("completion exceeds buffer")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrBusy indicates the resource already has an exclusive user.
	ErrBusy = errors.New("resource busy")

	// ErrNoResources indicates endpoint or transfer slots are exhausted.
	ErrNoResources = errors.New("no resources available")

	// ErrNoMapping indicates a reverse-map lookup with no match.
	ErrNoMapping = errors.New("no reverse mapping")

	// ErrNotBound indicates the function is not bound to a transport.
	ErrNotBound = errors.New("function not bound")

	// ErrAlreadyBound indicates the function is already bound.
	ErrAlreadyBound = errors.New("function already bound")

	// ErrClosed indicates the session or file has been released.
	ErrClosed = errors.New("already closed")

	// ErrInvalidRequest indicates an invalid or unrecognized control call.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrProtocol indicates a transport protocol error.
	ErrProtocol = errors.New("protocol error")
)

// IOStatus represents the completion status of an endpoint transfer.
type IOStatus int

// Transfer completion status values.
const (
	IOStatusSuccess   IOStatus = iota // Transfer completed successfully
	IOStatusError                     // Transfer failed with error
	IOStatusStall                     // Endpoint stalled
	IOStatusCancelled                 // Transfer was cancelled
	IOStatusOverflow                  // Completion exceeded the buffer
	IOStatusShutdown                  // Endpoint torn down mid-transfer
	IOStatusTimeout                   // Transfer timed out
)

// String returns a string representation of the completion status.
func (s IOStatus) String() string {
	switch s {
	case IOStatusSuccess:
		return "success"
	case IOStatusError:
		return "error"
	case IOStatusStall:
		return "stall"
	case IOStatusCancelled:
		return "cancelled"
	case IOStatusOverflow:
		return "overflow"
	case IOStatusShutdown:
		return "shutdown"
	case IOStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the corresponding error for the completion status.
func (s IOStatus) Err() error {
	switch s {
	case IOStatusSuccess:
		return nil
	case IOStatusStall:
		return ErrStall
	case IOStatusCancelled:
		return ErrCancelled
	case IOStatusOverflow:
		return ErrOverflow
	case IOStatusShutdown:
		return ErrEndpointChanged
	case IOStatusTimeout:
		return ErrTimeout
	default:
		return ErrProtocol
	}
}
