package function

import (
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

// AsyncOp is one in-flight asynchronous endpoint transfer. The
// completion callback runs on the session's bounded delivery pool,
// after received data has been copied into the caller's buffer.
type AsyncOp struct {
	f    *EndpointFile
	ep   *boundEP
	req  *hal.Request
	buf  []byte
	read bool
	done func(n int, err error)
}

// ReadAsync queues a receive on an OUT endpoint and returns without
// waiting. Unlike Read it requires the endpoint to be enabled.
func (f *EndpointFile) ReadAsync(buf []byte, done func(int, error)) (*AsyncOp, error) {
	return f.asyncIO(buf, true, done)
}

// WriteAsync queues a send on an IN endpoint and returns without
// waiting. The data is copied before queueing; the caller may reuse
// it immediately.
func (f *EndpointFile) WriteAsync(data []byte, done func(int, error)) (*AsyncOp, error) {
	return f.asyncIO(data, false, done)
}

func (f *EndpointFile) asyncIO(buf []byte, read bool, done func(int, error)) (*AsyncOp, error) {
	s := f.s
	if !f.opened.Load() {
		return nil, pkg.ErrClosed
	}
	if f.errFlag.Load() {
		return nil, pkg.ErrNoDevice
	}
	if s.State() != StateActive {
		return nil, pkg.ErrNoDevice
	}

	s.epMu.Lock()
	ep := f.ep
	if ep == nil {
		s.epMu.Unlock()
		return nil, pkg.ErrWouldBlock
	}
	if read == ep.in {
		isoc, hw := ep.isoc, ep.hw
		s.epMu.Unlock()
		if isoc {
			return nil, pkg.ErrMalformed
		}
		hw.SetHalt()
		return nil, pkg.ErrDirectionMismatch
	}
	if read && ep.busy {
		s.epMu.Unlock()
		return nil, pkg.ErrBusy
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
	op := &AsyncOp{f: f, ep: ep, req: req, buf: buf, read: read, done: done}
	req.Callback = func(r *hal.Request) {
		s.copier.submit(func() { op.complete(r) })
	}

	if read {
		ep.busy = true
		ep.req = req
	}
	if err := ep.hw.Queue(req); err != nil {
		if read {
			ep.busy = false
			ep.req = nil
		}
		s.epMu.Unlock()
		return nil, err
	}
	s.epMu.Unlock()

	pkg.LogDebug(pkg.ComponentEndpoint, "async transfer queued",
		"endpoint", f.name, "read", read, "bytes", len(buf))
	return op, nil
}

// complete delivers one completion on the copy pool.
func (op *AsyncOp) complete(r *hal.Request) {
	s := op.f.s

	s.epMu.Lock()
	if op.read && op.ep.req == r {
		op.ep.busy = false
		op.ep.req = nil
	}
	s.epMu.Unlock()

	n, err := r.Outcome()
	if err == nil && op.read {
		if n > len(op.buf) {
			n, err = 0, pkg.ErrOverflow
		} else {
			copy(op.buf, r.Buf[:n])
		}
	}
	if op.done != nil {
		op.done(n, err)
	}
	s.notifySignal()
}

// Cancel dequeues the transfer. The completion callback still runs,
// with a cancelled error and no data delivered.
func (op *AsyncOp) Cancel() error {
	op.f.s.epMu.Lock()
	hw := op.ep.hw
	op.f.s.epMu.Unlock()
	if hw == nil {
		return pkg.ErrNoDevice
	}
	return hw.Dequeue(op.req)
}

// Done returns a channel closed once the transport completed the
// transfer. The callback may still be in flight on the delivery pool.
func (op *AsyncOp) Done() <-chan struct{} {
	return op.req.Done()
}
