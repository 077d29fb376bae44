package function

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

// boundEP is one endpoint slot of a bound function: the claimed
// transport endpoint plus the per-speed descriptors selected for it.
// All mutable fields are guarded by the session's epMu.
type boundEP struct {
	hw hal.Endpoint

	// descs holds the rewritten descriptor bytes per speed tier.
	descs [desc.TierCount][]byte

	// primary is the descriptor from the tier that claimed hw; later
	// tiers copy its address and packet size.
	primary []byte

	// chosen is the descriptor the endpoint was last enabled with.
	chosen []byte

	in   bool
	isoc bool

	// num is the 1-based declared endpoint index.
	num int

	// busy marks an outstanding read so a second reader waits for it
	// to drain instead of double-queueing.
	busy bool
	req  *hal.Request
}

// chooseDesc picks the descriptor for a speed tier, falling back to
// the next lower tier when the blob declared none for it.
func (ep *boundEP) chooseDesc(tier int) []byte {
	for ; tier >= 0; tier-- {
		if ds := ep.descs[tier]; ds != nil {
			return ds
		}
	}
	return nil
}

// tierForSpeed maps a connection speed to a descriptor tier.
func tierForSpeed(speed hal.Speed) int {
	switch speed {
	case hal.SpeedSuper:
		return desc.TierSuper
	case hal.SpeedHigh:
		return desc.TierHigh
	default:
		return desc.TierFull
	}
}

// EndpointFile is the per-endpoint I/O handle of an active session.
// Reads and writes block until the endpoint is enabled by the host
// selecting a configuration; each file admits one opener at a time.
type EndpointFile struct {
	s     *Session
	index int
	name  string

	// mu serializes synchronous I/O on this file.
	mu sync.Mutex

	opened   atomic.Bool
	errFlag  atomic.Bool
	nonblock atomic.Bool

	// firstReadDone gates the one transparent retry after the first
	// failed read following open. Guarded by mu.
	firstReadDone bool

	// ep is the live endpoint slot, nil while disabled. Guarded by
	// the session's epMu.
	ep *boundEP
}

func newEndpointFile(s *Session, index int, virtual bool) *EndpointFile {
	name := fmt.Sprintf("ep%d", index)
	if virtual {
		name = fmt.Sprintf("ep%02x", s.blob.Address(index))
	}
	return &EndpointFile{s: s, index: index, name: name}
}

// Name returns the file name: the 1-based index ("ep1") or, with
// virtual addressing, the declared address ("ep81").
func (f *EndpointFile) Name() string {
	return f.name
}

// Index returns the 1-based declared endpoint index.
func (f *EndpointFile) Index() int {
	return f.index
}

// Open claims the endpoint file. Only one opener is admitted at a
// time, and only while the session is active.
func (f *EndpointFile) Open() error {
	if f.s.State() != StateActive {
		return pkg.ErrNoDevice
	}
	if !f.opened.CompareAndSwap(false, true) {
		return pkg.ErrBusy
	}
	f.mu.Lock()
	f.firstReadDone = false
	f.mu.Unlock()
	f.errFlag.Store(false)
	f.s.openedFile()
	return nil
}

// Close releases the endpoint file. The error flag is raised before
// waiters are woken so anything blocked on the endpoint fails fast
// instead of hanging.
func (f *EndpointFile) Close() error {
	if !f.opened.CompareAndSwap(true, false) {
		return pkg.ErrClosed
	}
	f.errFlag.Store(true)
	f.s.epMu.Lock()
	f.s.broadcastEndpointsLocked()
	f.s.epMu.Unlock()
	f.s.closedFile()
	return nil
}

// SetNonblock switches the handle between blocking and non-blocking
// mode.
func (f *EndpointFile) SetNonblock(v bool) {
	f.nonblock.Store(v)
}

// Read receives data from the host on an OUT endpoint. It blocks
// until the endpoint is enabled and the transfer completes.
func (f *EndpointFile) Read(ctx context.Context, buf []byte) (int, error) {
	return f.io(ctx, buf, true)
}

// Write sends data to the host on an IN endpoint. It blocks until the
// endpoint is enabled and the transfer completes.
func (f *EndpointFile) Write(ctx context.Context, data []byte) (int, error) {
	return f.io(ctx, data, false)
}

func (f *EndpointFile) io(ctx context.Context, buf []byte, read bool) (int, error) {
	if !f.opened.Load() {
		return 0, pkg.ErrClosed
	}
	nonblock := f.nonblock.Load()
	if nonblock {
		if !f.mu.TryLock() {
			return 0, pkg.ErrWouldBlock
		}
	} else {
		f.mu.Lock()
	}
	defer f.mu.Unlock()

	for {
		n, err := f.ioOnce(ctx, buf, read, nonblock)

		// The first read after open retries once on failure with all
		// error flags cleared, hiding a stale teardown from before
		// the handle existed. A failure caused by closing the handle
		// itself is not retried.
		if read && !f.firstReadDone {
			f.firstReadDone = true
			if err != nil && f.opened.Load() {
				pkg.LogDebug(pkg.ComponentEndpoint, "first read retry",
					"endpoint", f.name, "error", err)
				f.s.clearEndpointErrors()
				continue
			}
		}
		return n, err
	}
}

func (f *EndpointFile) ioOnce(ctx context.Context, buf []byte, read, nonblock bool) (int, error) {
	s := f.s

	if f.errFlag.Load() {
		return 0, pkg.ErrNoDevice
	}
	if s.State() != StateActive {
		return 0, pkg.ErrNoDevice
	}

	ep, err := f.waitEndpoint(ctx, nonblock)
	if err != nil {
		return 0, err
	}

	s.epMu.Lock()
	if f.ep != ep {
		s.epMu.Unlock()
		return 0, pkg.ErrEndpointChanged
	}

	// Reading an IN endpoint or writing an OUT endpoint is a protocol
	// violation; signal the host unless the endpoint is isochronous,
	// which has no halt handshake.
	if read == ep.in {
		isoc, hw := ep.isoc, ep.hw
		s.epMu.Unlock()
		if isoc {
			return 0, pkg.ErrMalformed
		}
		hw.SetHalt()
		return 0, pkg.ErrDirectionMismatch
	}

	// An asynchronous read may already be in flight. Wait for it to
	// drain rather than sharing one host packet with two consumers.
	for read && ep.busy {
		prev := ep.req
		s.epMu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-prev.Done():
		}
		s.epMu.Lock()
		if f.ep != ep {
			s.epMu.Unlock()
			return 0, pkg.ErrEndpointChanged
		}
		if ep.req == prev {
			ep.busy = false
			ep.req = nil
		}
	}

	var data []byte
	if read {
		data = make([]byte, alignOutLocked(s, ep, len(buf)))
	} else {
		data = make([]byte, len(buf))
		copy(data, buf)
	}
	req := hal.NewRequest(data)
	req.In = !read
	ep.busy = true
	ep.req = req
	if err := ep.hw.Queue(req); err != nil {
		ep.busy = false
		ep.req = nil
		s.epMu.Unlock()
		return 0, err
	}
	hw := ep.hw
	s.epMu.Unlock()

	select {
	case <-ctx.Done():
		hw.Dequeue(req)
		<-req.Done()
		f.finishRequest(ep, req)
		return 0, ctx.Err()
	case <-req.Done():
	}

	epChanged := f.finishRequest(ep, req)
	n, err := req.Outcome()
	if epChanged {
		return 0, pkg.ErrEndpointChanged
	}
	if err != nil {
		return 0, err
	}
	if read {
		if n > len(buf) {
			return 0, pkg.ErrOverflow
		}
		copy(buf, req.Buf[:n])
	}
	return n, nil
}

// finishRequest releases the busy slot and reports whether the
// endpoint was swapped out while the transfer was in flight.
func (f *EndpointFile) finishRequest(ep *boundEP, req *hal.Request) bool {
	s := f.s
	s.epMu.Lock()
	if ep.req == req {
		ep.busy = false
		ep.req = nil
	}
	changed := f.ep != ep
	s.epMu.Unlock()
	return changed
}

// waitEndpoint blocks until the file's endpoint is enabled or the
// file is torn down.
func (f *EndpointFile) waitEndpoint(ctx context.Context, nonblock bool) (*boundEP, error) {
	s := f.s
	s.epMu.Lock()
	for {
		if f.errFlag.Load() {
			s.epMu.Unlock()
			return nil, pkg.ErrNoDevice
		}
		if f.ep != nil {
			ep := f.ep
			s.epMu.Unlock()
			return ep, nil
		}
		if nonblock {
			s.epMu.Unlock()
			return nil, pkg.ErrWouldBlock
		}
		ch := s.epWake
		s.epMu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
		s.epMu.Lock()
	}
}

// alignOutLocked sizes an OUT transfer buffer: packet-size multiple
// first, then the transport's own alignment. Callers hold epMu.
func alignOutLocked(s *Session, ep *boundEP, n int) int {
	if len(ep.chosen) >= desc.EndpointDescLength {
		if mps := int(desc.EndpointDesc(ep.chosen).MaxPacketSize()); mps > 0 {
			if r := n % mps; r != 0 {
				n += mps - r
			}
		}
	}
	if s.fn != nil {
		n = s.fn.transport.AlignOut(n)
	}
	return n
}

// clearEndpointErrors resets the error flag on every endpoint file.
func (s *Session) clearEndpointErrors() {
	s.epMu.Lock()
	for _, f := range s.epfiles {
		f.errFlag.Store(false)
	}
	s.epMu.Unlock()
}

// withEndpoint runs op with the live endpoint slot under epMu.
func (f *EndpointFile) withEndpoint(op func(*boundEP) error) error {
	f.s.epMu.Lock()
	defer f.s.epMu.Unlock()
	if f.ep == nil {
		return pkg.ErrNoDevice
	}
	return op(f.ep)
}

// FIFOStatus reports the number of unclaimed bytes in the endpoint's
// hardware FIFO.
func (f *EndpointFile) FIFOStatus() (int, error) {
	var n int
	err := f.withEndpoint(func(ep *boundEP) error {
		var err error
		n, err = ep.hw.FIFOStatus()
		return err
	})
	return n, err
}

// FIFOFlush discards whatever the endpoint's FIFO holds.
func (f *EndpointFile) FIFOFlush() error {
	return f.withEndpoint(func(ep *boundEP) error {
		return ep.hw.FIFOFlush()
	})
}

// ClearHalt clears a stall condition on the endpoint.
func (f *EndpointFile) ClearHalt() error {
	return f.withEndpoint(func(ep *boundEP) error {
		return ep.hw.ClearHalt()
	})
}

// Number returns the real endpoint number assigned by the transport.
func (f *EndpointFile) Number() (int, error) {
	var n int
	err := f.withEndpoint(func(ep *boundEP) error {
		n = int(ep.hw.Address() & desc.EndpointNumberMask)
		return nil
	})
	return n, err
}

// Descriptor returns a copy of the endpoint descriptor for the
// transport's current speed. Unlike enabling, this does not fall back
// to a lower tier.
func (f *EndpointFile) Descriptor() ([]byte, error) {
	var out []byte
	err := f.withEndpoint(func(ep *boundEP) error {
		fn := f.s.fn
		if fn == nil {
			return pkg.ErrNoDevice
		}
		ds := ep.descs[tierForSpeed(fn.transport.Speed())]
		if ds == nil {
			return pkg.ErrInvalidRequest
		}
		out = make([]byte, len(ds))
		copy(out, ds)
		return nil
	})
	return out, err
}
