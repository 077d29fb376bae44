package function

import (
	"context"
	"sync/atomic"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/pkg"
)

// Readiness is a poll-style readiness mask for the control file.
type Readiness uint8

// Readiness bits.
const (
	// ReadyRead means a read would not block: events are queued or a
	// setup data stage awaits.
	ReadyRead Readiness = 1 << iota

	// ReadyWrite means a write would be accepted.
	ReadyWrite

	// ReadyConfig means the session still expects a configuration
	// blob on the next write.
	ReadyConfig
)

// ControlFile is the session's control endpoint handle. Writes feed
// the two configuration blobs and answer setup requests; reads drain
// lifecycle events and receive setup data stages. A session allows a
// single control handle at a time.
type ControlFile struct {
	s        *Session
	nonblock atomic.Bool
	closed   atomic.Bool
}

// OpenControl opens the session's control file. It fails with ErrBusy
// while another control handle is open and with ErrClosed once the
// session is tearing down.
func (s *Session) OpenControl() (*ControlFile, error) {
	if s.State() == StateClosing {
		return nil, pkg.ErrClosed
	}
	if !s.ep0Opened.CompareAndSwap(false, true) {
		return nil, pkg.ErrBusy
	}
	s.openedFile()
	pkg.LogDebug(pkg.ComponentEP0, "control file opened", "name", s.name)
	return &ControlFile{s: s}, nil
}

// SetNonblock switches the handle between blocking and non-blocking
// mode. Non-blocking calls that would otherwise wait fail with
// ErrWouldBlock.
func (f *ControlFile) SetNonblock(v bool) {
	f.nonblock.Store(v)
}

// Close releases the control handle. The session-level close
// accounting may reset or deactivate the session.
func (f *ControlFile) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return pkg.ErrClosed
	}
	f.s.closedFile()
	f.s.ep0Opened.Store(false)
	pkg.LogDebug(pkg.ComponentEP0, "control file closed", "name", f.s.name)
	return nil
}

func (f *ControlFile) lockSession() error {
	if f.nonblock.Load() {
		if !f.s.mu.TryLock() {
			return pkg.ErrWouldBlock
		}
		return nil
	}
	f.s.mu.Lock()
	return nil
}

// Write feeds data to the session according to its state: the
// descriptor blob first, the string blob second, and afterwards the
// data stage of a pending device-to-host setup request. The byte
// count of an accepted blob is returned in full; setup responses are
// truncated to the request's declared length.
func (f *ControlFile) Write(ctx context.Context, data []byte) (int, error) {
	s := f.s
	if f.closed.Load() {
		return 0, pkg.ErrClosed
	}

	// Fast check for a cancellation latched since the last call.
	if s.clearCancelled() {
		return 0, pkg.ErrSetupCancelled
	}

	if err := f.lockSession(); err != nil {
		return 0, err
	}
	n, fireReady, err := f.writeLocked(ctx, data)
	s.mu.Unlock()
	if fireReady {
		s.ready()
	}
	return n, err
}

func (f *ControlFile) writeLocked(ctx context.Context, data []byte) (int, bool, error) {
	s := f.s

	switch s.State() {
	case StateReadDescriptors:
		if len(data) < 16 {
			return 0, false, pkg.ErrDescriptorTooShort
		}
		blob, err := desc.ParseBlob(data)
		if err != nil {
			pkg.LogWarn(pkg.ComponentEP0, "descriptor blob rejected",
				"name", s.name, "error", err)
			return 0, false, err
		}
		if blob.NotifierHandle >= 0 {
			nf, err := s.makeNotifier(blob.NotifierHandle)
			if err != nil {
				return 0, false, err
			}
			s.evMu.Lock()
			s.notifier = nf
			s.evMu.Unlock()
		}
		s.blob = blob
		s.setState(StateReadStrings)
		pkg.LogInfo(pkg.ComponentEP0, "descriptor blob accepted",
			"name", s.name,
			"interfaces", blob.InterfaceCount,
			"endpoints", blob.EndpointCount,
			"strings", blob.StringsNeeded)
		return len(data), false, nil

	case StateReadStrings:
		tab, err := desc.ParseStrings(data, s.blob.StringsNeeded)
		if err != nil {
			pkg.LogWarn(pkg.ComponentEP0, "string blob rejected",
				"name", s.name, "error", err)
			return 0, false, err
		}
		s.strings = tab
		if err := s.createEndpointFiles(); err != nil {
			s.setState(StateClosing)
			return 0, false, err
		}
		s.setState(StateActive)
		return len(data), true, nil

	case StateActive:
		return f.writeSetupResponse(ctx, data)

	default:
		return 0, false, pkg.ErrInvalidState
	}
}

// writeSetupResponse supplies the data stage for a pending
// device-to-host setup request.
func (f *ControlFile) writeSetupResponse(ctx context.Context, data []byte) (int, bool, error) {
	s := f.s

	s.evMu.Lock()
	switch s.setupStateLocked() {
	case SetupCancelled:
		s.evMu.Unlock()
		return 0, false, pkg.ErrSetupCancelled
	case SetupNone:
		s.evMu.Unlock()
		return 0, false, pkg.ErrNoSetup
	}

	// A response only makes sense for a device-to-host request.
	if !s.setupPkt.IsDeviceToHost() {
		err := s.stallLocked()
		s.evMu.Unlock()
		return 0, false, err
	}

	n := len(data)
	if wl := int(s.setupPkt.Length); n > wl {
		n = wl
	}
	s.evMu.Unlock()

	buf := make([]byte, n)
	copy(buf, data[:n])

	s.evMu.Lock()
	if s.SetupState() != SetupPending {
		s.evMu.Unlock()
		return 0, false, pkg.ErrSetupCancelled
	}
	got, err := s.ep0QueueLocked(ctx, buf, true)
	return got, false, err
}

// Read drains lifecycle events when no setup request is pending, one
// 12-byte record per queued event, blocking until at least one event
// arrives. With a pending host-to-device setup request it instead
// receives the request's data stage.
func (f *ControlFile) Read(ctx context.Context, buf []byte) (int, error) {
	s := f.s
	if f.closed.Load() {
		return 0, pkg.ErrClosed
	}

	if s.clearCancelled() {
		return 0, pkg.ErrSetupCancelled
	}

	if err := f.lockSession(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return 0, pkg.ErrInvalidState
	}

	s.evMu.Lock()
	switch s.setupStateLocked() {
	case SetupCancelled:
		s.evMu.Unlock()
		return 0, pkg.ErrSetupCancelled

	case SetupPending:
		return f.readSetupData(ctx, buf)
	}

	// No setup pending: this is an event read.
	n := len(buf) / desc.EventRecordSize
	if n == 0 {
		s.evMu.Unlock()
		return 0, pkg.ErrBufferTooSmall
	}
	for s.evCount == 0 {
		if f.nonblock.Load() {
			s.evMu.Unlock()
			return 0, pkg.ErrWouldBlock
		}
		s.evMu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.evWake:
		}
		s.evMu.Lock()
	}
	if n > s.evCount {
		n = s.evCount
	}
	used := s.popEventsLocked(n, buf)
	s.evMu.Unlock()
	return used, nil
}

// readSetupData receives the data stage of a pending host-to-device
// setup request. Called with evMu held; returns with it released.
func (f *ControlFile) readSetupData(ctx context.Context, buf []byte) (int, error) {
	s := f.s

	// Reading a response to a device-to-host request is backwards.
	if s.setupPkt.IsDeviceToHost() {
		err := s.stallLocked()
		s.evMu.Unlock()
		return 0, err
	}

	n := len(buf)
	if wl := int(s.setupPkt.Length); n > wl {
		n = wl
	}
	s.evMu.Unlock()

	data := make([]byte, n)

	s.evMu.Lock()
	if s.SetupState() != SetupPending {
		s.evMu.Unlock()
		return 0, pkg.ErrSetupCancelled
	}
	got, err := s.ep0QueueLocked(ctx, data, false)
	if err != nil {
		return 0, err
	}
	copy(buf, data[:got])
	return got, nil
}

// ep0QueueLocked queues a data-stage transfer on the bound control
// endpoint and waits for its completion. Called with evMu held;
// returns with it released.
func (s *Session) ep0QueueLocked(ctx context.Context, data []byte, in bool) (int, error) {
	fn := s.function()
	s.evMu.Unlock()

	if fn == nil {
		return 0, pkg.ErrNoDevice
	}

	req := fn.ep0req
	req.Reset()
	req.In = in
	req.Buf = data

	ep0 := fn.transport.Control()
	if err := ep0.Queue(req); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		ep0.Dequeue(req)
		<-req.Done()
		return 0, ctx.Err()
	case <-req.Done():
	}
	s.setup.Store(uint32(SetupNone))
	return req.Outcome()
}

// stallLocked answers unexpected control traffic. With stalls enabled
// the bound control endpoint is halted and the setup sub-state
// cleared; otherwise the caller just learns nothing was pending.
// Called with evMu held.
func (s *Session) stallLocked() error {
	if s.opts.NoStall {
		return pkg.ErrNoSetup
	}
	if fn := s.function(); fn != nil {
		if err := fn.transport.Control().SetHalt(); err != nil {
			pkg.LogWarn(pkg.ComponentEP0, "control stall failed",
				"name", s.name, "error", err)
		}
	}
	s.setup.Store(uint32(SetupNone))
	return pkg.ErrStall
}

// Poll reports the handle's readiness without blocking.
func (f *ControlFile) Poll() Readiness {
	s := f.s
	mask := ReadyWrite

	switch s.State() {
	case StateReadDescriptors, StateReadStrings:
		mask |= ReadyConfig

	case StateActive:
		s.evMu.Lock()
		switch s.SetupState() {
		case SetupNone:
			if s.evCount > 0 {
				mask |= ReadyRead
			}
		case SetupPending, SetupCancelled:
			mask |= ReadyRead | ReadyWrite
		}
		s.evMu.Unlock()
	}
	return mask
}

// InterfaceRevMap translates a composite interface number back to the
// descriptor-declared interface index, for dispatching setup requests
// the host addressed by interface.
func (f *ControlFile) InterfaceRevMap(intf uint8) (int, error) {
	fn := f.s.function()
	if fn == nil {
		return 0, pkg.ErrNoDevice
	}
	return fn.revmapInterface(intf)
}
