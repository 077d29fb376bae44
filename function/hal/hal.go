package hal

// Speed represents the negotiated USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
	SpeedSuper                // Super Speed (5 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "Super Speed"
	default:
		return "Unknown"
	}
}

// Endpoint is one live transport endpoint claimed from the controller.
//
// Queue submits a request and returns immediately; the transport
// completes it from its own delivery context by calling the request's
// Complete method. Implementations must never block in that context.
type Endpoint interface {
	// Address returns the real endpoint address assigned by the
	// transport, including the direction bit.
	Address() uint8

	// Enable activates the endpoint with the raw endpoint descriptor
	// selected for the current connection speed.
	Enable(desc []byte) error

	// Disable deactivates the endpoint and fails outstanding requests
	// with a shutdown status.
	Disable() error

	// Queue submits a transfer request.
	Queue(r *Request) error

	// Dequeue cancels an outstanding request. The request completes
	// with a cancelled status. Dequeueing a request that already
	// completed is not an error.
	Dequeue(r *Request) error

	// SetHalt stalls the endpoint.
	SetHalt() error

	// ClearHalt clears a stall condition.
	ClearHalt() error

	// FIFOStatus reports the number of bytes held in the endpoint's
	// hardware FIFO.
	FIFOStatus() (int, error)

	// FIFOFlush discards any bytes held in the endpoint's FIFO.
	FIFOFlush() error

	// Close releases the claimed endpoint back to the transport.
	// Close must be called exactly once per allocated endpoint.
	Close() error
}

// Transport abstracts the USB device controller a function binds to.
// It hands out addressable endpoints and queues transfer requests for
// a fixed set of them.
type Transport interface {
	// Speed returns the negotiated connection speed.
	Speed() Speed

	// Control returns the transport's control endpoint (ep0). The
	// returned endpoint is owned by the transport and must not be
	// closed by callers.
	Control() Endpoint

	// AllocEndpoint claims a hardware endpoint compatible with the
	// given raw endpoint descriptor. The transport may rewrite the
	// descriptor's address byte with the real assigned address.
	// Fails when no compatible endpoint remains.
	AllocEndpoint(desc []byte) (Endpoint, error)

	// AlignOut returns n rounded up to the transport's buffer
	// alignment requirement for OUT transfers (typically the
	// endpoint's maximum packet size granularity).
	AlignOut(n int) int
}
