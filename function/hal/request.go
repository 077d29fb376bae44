package hal

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/funcfs/pkg"
)

// RequestCallback is called when a request completes.
type RequestCallback func(r *Request)

// Request represents one transfer queued on an endpoint.
//
// The transport owns Buf between Queue and completion. Completion is
// delivered exactly once via Complete, from the transport's own
// delivery context; callers wanting to block use Done or Wait-style
// selection on it.
type Request struct {
	// In holds true for device-to-host transfers. Informational; the
	// queued endpoint's direction governs.
	In bool

	// Buf is the transfer buffer: payload for IN, destination for OUT.
	Buf []byte

	// Actual is the number of bytes transferred, valid on completion.
	Actual int

	// Status is the completion status.
	Status pkg.IOStatus

	// Err carries transport detail beyond Status, if any.
	Err error

	// Callback, if set, runs after completion state is recorded.
	Callback RequestCallback

	// Context carries the owning caller's state through an
	// asynchronous completion (opaque to the transport).
	Context any

	// Atomic cancellation flag (0 = not cancelled, 1 = cancelled)
	cancelled uint32

	mutex     sync.Mutex
	completed bool
	done      chan struct{}
}

// NewRequest creates a request for the given buffer.
func NewRequest(buf []byte) *Request {
	return &Request{
		Buf:  buf,
		done: make(chan struct{}),
	}
}

// Done returns a channel closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Cancel marks the request cancelled. The transport still completes
// it (with a cancelled status) when it processes the dequeue.
func (r *Request) Cancel() {
	atomic.StoreUint32(&r.cancelled, 1)
}

// IsCancelled returns true if the request was cancelled.
func (r *Request) IsCancelled() bool {
	return atomic.LoadUint32(&r.cancelled) != 0
}

// Complete records the outcome and delivers the completion exactly
// once. The callback is invoked outside the request's lock. Duplicate
// completions are ignored.
func (r *Request) Complete(status pkg.IOStatus, actual int, err error) {
	r.mutex.Lock()
	if r.completed {
		r.mutex.Unlock()
		return
	}
	r.completed = true
	r.Status = status
	r.Actual = actual
	r.Err = err
	cb := r.Callback
	done := r.done
	r.mutex.Unlock()

	if done != nil {
		close(done)
	}
	if cb != nil {
		cb(r)
	}
}

// IsCompleted returns true if the request has completed.
func (r *Request) IsCompleted() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.completed
}

// Outcome returns the transferred byte count, or the error implied by
// the completion status.
func (r *Request) Outcome() (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if !r.completed {
		return 0, pkg.ErrBusy
	}
	if err := r.Status.Err(); err != nil {
		return 0, err
	}
	return r.Actual, nil
}

// Reset prepares the request for reuse.
func (r *Request) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.In = false
	r.Actual = 0
	r.Status = 0
	r.Err = nil
	r.completed = false
	r.done = make(chan struct{})
	atomic.StoreUint32(&r.cancelled, 0)
}

// RequestPool manages a pool of reusable request objects.
type RequestPool struct {
	pool sync.Pool
}

// NewRequestPool creates a new request pool.
func NewRequestPool() *RequestPool {
	return &RequestPool{
		pool: sync.Pool{
			New: func() interface{} {
				return &Request{done: make(chan struct{})}
			},
		},
	}
}

// Get retrieves a request from the pool.
func (p *RequestPool) Get() *Request {
	r := p.pool.Get().(*Request)
	r.Reset()
	return r
}

// Put returns a request to the pool.
func (p *RequestPool) Put(r *Request) {
	r.Buf = nil
	r.Callback = nil
	r.Context = nil
	p.pool.Put(r)
}
