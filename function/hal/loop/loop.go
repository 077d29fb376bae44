package loop

import (
	"context"
	"sync"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

// Transport is an in-memory device controller. Each claimed endpoint
// is a packet queue whose far side is driven directly through the
// Host* methods, so a function binding can be exercised end to end in
// one process.
type Transport struct {
	mu    sync.Mutex
	speed hal.Speed
	ctrl  *Endpoint
	eps   map[uint8]*Endpoint
	next  uint8
	align int
}

// New creates a transport reporting the given connection speed.
func New(speed hal.Speed) *Transport {
	t := &Transport{
		speed: speed,
		eps:   make(map[uint8]*Endpoint),
		align: 1,
	}
	t.ctrl = newEndpoint(t, 0)
	t.ctrl.enabled = true
	return t
}

// SetSpeed changes the reported connection speed, as after a
// re-enumeration at a different rate.
func (t *Transport) SetSpeed(speed hal.Speed) {
	t.mu.Lock()
	t.speed = speed
	t.mu.Unlock()
}

// SetAlignment sets the OUT buffer alignment quantum.
func (t *Transport) SetAlignment(n int) {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	t.align = n
	t.mu.Unlock()
}

// Speed implements hal.Transport.
func (t *Transport) Speed() hal.Speed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// Control implements hal.Transport.
func (t *Transport) Control() hal.Endpoint {
	return t.ctrl
}

// AllocEndpoint implements hal.Transport. Endpoint numbers are handed
// out sequentially; the descriptor's address byte is rewritten with
// the assigned address.
func (t *Transport) AllocEndpoint(d []byte) (hal.Endpoint, error) {
	ed := desc.EndpointDesc(d)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next >= 15 {
		return nil, pkg.ErrNoResources
	}
	t.next++
	addr := t.next
	if ed.IsIn() {
		addr |= desc.EndpointDirectionIn
	}
	ed.SetAddress(addr)
	ep := newEndpoint(t, addr)
	t.eps[addr] = ep
	pkg.LogDebug(pkg.ComponentHAL, "endpoint allocated", "address", addr)
	return ep, nil
}

// AlignOut implements hal.Transport.
func (t *Transport) AlignOut(n int) int {
	t.mu.Lock()
	align := t.align
	t.mu.Unlock()
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}

// Host returns the host side of a claimed endpoint by its real
// address; address 0 is the control endpoint.
func (t *Transport) Host(addr uint8) (*Endpoint, bool) {
	if addr == 0 {
		return t.ctrl, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.eps[addr]
	return ep, ok
}

// Endpoint is one loopback endpoint. The device side implements
// hal.Endpoint; the Host* methods play the bus.
type Endpoint struct {
	t    *Transport
	addr uint8

	mu      sync.Mutex
	enabled bool
	halted  bool
	closed  bool
	desc    []byte
	pending []*hal.Request
	fifo    [][]byte
	wake    chan struct{}
}

func newEndpoint(t *Transport, addr uint8) *Endpoint {
	return &Endpoint{t: t, addr: addr, wake: make(chan struct{})}
}

// Address implements hal.Endpoint.
func (ep *Endpoint) Address() uint8 {
	return ep.addr
}

// Enable implements hal.Endpoint.
func (ep *Endpoint) Enable(d []byte) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return pkg.ErrClosed
	}
	ep.enabled = true
	ep.halted = false
	ep.desc = append([]byte(nil), d...)
	return nil
}

// Disable implements hal.Endpoint. Pending requests complete with a
// shutdown status and the FIFO drains.
func (ep *Endpoint) Disable() error {
	ep.mu.Lock()
	pending := ep.pending
	ep.pending = nil
	ep.fifo = nil
	ep.enabled = false
	ep.mu.Unlock()
	for _, r := range pending {
		r.Complete(pkg.IOStatusShutdown, 0, nil)
	}
	return nil
}

// Queue implements hal.Endpoint. OUT requests complete immediately
// when buffered host data is available; everything else waits for the
// host side.
func (ep *Endpoint) Queue(r *hal.Request) error {
	ep.mu.Lock()
	if ep.closed || !ep.enabled {
		ep.mu.Unlock()
		return pkg.ErrEndpointChanged
	}
	if ep.halted {
		ep.mu.Unlock()
		return pkg.ErrStall
	}
	if !r.In && len(ep.fifo) > 0 {
		pkt := ep.fifo[0]
		ep.fifo = ep.fifo[1:]
		ep.mu.Unlock()
		completeOut(r, pkt)
		return nil
	}
	ep.pending = append(ep.pending, r)
	close(ep.wake)
	ep.wake = make(chan struct{})
	ep.mu.Unlock()
	return nil
}

func completeOut(r *hal.Request, pkt []byte) {
	if len(pkt) > len(r.Buf) {
		r.Complete(pkg.IOStatusOverflow, len(pkt), nil)
		return
	}
	n := copy(r.Buf, pkt)
	r.Complete(pkg.IOStatusSuccess, n, nil)
}

// Dequeue implements hal.Endpoint.
func (ep *Endpoint) Dequeue(r *hal.Request) error {
	ep.mu.Lock()
	for i, q := range ep.pending {
		if q == r {
			ep.pending = append(ep.pending[:i], ep.pending[i+1:]...)
			break
		}
	}
	ep.mu.Unlock()
	r.Cancel()
	r.Complete(pkg.IOStatusCancelled, 0, nil)
	return nil
}

// SetHalt implements hal.Endpoint.
func (ep *Endpoint) SetHalt() error {
	ep.mu.Lock()
	ep.halted = true
	ep.mu.Unlock()
	return nil
}

// ClearHalt implements hal.Endpoint.
func (ep *Endpoint) ClearHalt() error {
	ep.mu.Lock()
	ep.halted = false
	ep.mu.Unlock()
	return nil
}

// Halted reports the stall state, for the host side.
func (ep *Endpoint) Halted() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.halted
}

// FIFOStatus implements hal.Endpoint: bytes queued toward the host
// for IN endpoints, buffered host data for OUT endpoints.
func (ep *Endpoint) FIFOStatus() (int, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return 0, pkg.ErrClosed
	}
	n := 0
	if ep.addr&desc.EndpointDirectionMask == desc.EndpointDirectionIn {
		for _, r := range ep.pending {
			n += len(r.Buf)
		}
	} else {
		for _, pkt := range ep.fifo {
			n += len(pkt)
		}
	}
	return n, nil
}

// FIFOFlush implements hal.Endpoint. Buffered host data is discarded;
// queued requests stay queued.
func (ep *Endpoint) FIFOFlush() error {
	ep.mu.Lock()
	ep.fifo = nil
	ep.mu.Unlock()
	return nil
}

// Close implements hal.Endpoint.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return pkg.ErrClosed
	}
	ep.closed = true
	ep.enabled = false
	pending := ep.pending
	ep.pending = nil
	ep.fifo = nil
	ep.mu.Unlock()

	for _, r := range pending {
		r.Complete(pkg.IOStatusShutdown, 0, nil)
	}
	ep.t.mu.Lock()
	delete(ep.t.eps, ep.addr)
	ep.t.mu.Unlock()
	return nil
}

// HostWrite delivers host data to the device: it completes a waiting
// OUT request, or buffers the packet until one arrives.
func (ep *Endpoint) HostWrite(data []byte) error {
	ep.mu.Lock()
	if ep.closed || !ep.enabled {
		ep.mu.Unlock()
		return pkg.ErrNoDevice
	}
	for i, r := range ep.pending {
		if !r.In {
			ep.pending = append(ep.pending[:i], ep.pending[i+1:]...)
			ep.mu.Unlock()
			completeOut(r, data)
			return nil
		}
	}
	pkt := append([]byte(nil), data...)
	ep.fifo = append(ep.fifo, pkt)
	ep.mu.Unlock()
	return nil
}

// HostRead collects the next device-to-host transfer, blocking until
// the device queues one.
func (ep *Endpoint) HostRead(ctx context.Context) ([]byte, error) {
	for {
		ep.mu.Lock()
		if ep.closed {
			ep.mu.Unlock()
			return nil, pkg.ErrNoDevice
		}
		for i, r := range ep.pending {
			if r.In {
				ep.pending = append(ep.pending[:i], ep.pending[i+1:]...)
				ep.mu.Unlock()
				data := append([]byte(nil), r.Buf...)
				r.Complete(pkg.IOStatusSuccess, len(r.Buf), nil)
				return data, nil
			}
		}
		ch := ep.wake
		ep.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}
