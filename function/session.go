package function

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/pkg"
	"github.com/ardnew/funcfs/pkg/prof"
)

// State is the lifecycle phase of a Session. A fresh session collects
// the descriptor blob, then the string blob, then serves I/O until the
// last file handle goes away.
type State uint32

// Session lifecycle states.
const (
	// StateReadDescriptors expects the descriptor blob on the next
	// control write.
	StateReadDescriptors State = iota

	// StateReadStrings expects the string blob on the next control
	// write.
	StateReadStrings

	// StateActive serves setup traffic and endpoint I/O.
	StateActive

	// StateDeactivated is entered instead of StateClosing when the
	// session was created with NoDisconnect and its last file handle
	// closed. Configuration survives; reopening the control file
	// resets it.
	StateDeactivated

	// StateClosing rejects all further I/O while the session tears
	// down.
	StateClosing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReadDescriptors:
		return "read-descriptors"
	case StateReadStrings:
		return "read-strings"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	case StateClosing:
		return "closing"
	default:
		return "invalid"
	}
}

// SetupState tracks the control-transfer sub-state while the session
// is active.
type SetupState uint32

// Setup sub-states.
const (
	// SetupNone means no setup request awaits a response; control
	// reads drain the event queue.
	SetupNone SetupState = iota

	// SetupPending means a setup request was delivered to the reader
	// and the next control read or write supplies its data stage.
	SetupPending

	// SetupCancelled means a newer event superseded a pending setup
	// before its data stage arrived.
	SetupCancelled
)

// Options configure a Session at creation time.
type Options struct {
	// NoDisconnect keeps the session configuration alive when its last
	// file handle closes, entering StateDeactivated instead of tearing
	// down.
	NoDisconnect bool

	// NoStall disables protocol stalls on unexpected control traffic;
	// the offending caller gets an error instead of the host seeing a
	// stall handshake.
	NoStall bool

	// CopyWorkers bounds the number of concurrent asynchronous
	// completion deliveries. Zero selects a small default.
	CopyWorkers int64

	// NewNotifier converts the notifier handle declared by a
	// descriptor blob into a Notifier. Nil selects the platform
	// default.
	NewNotifier func(handle int) (Notifier, error)

	// OnReady runs once the session has both blobs and enters
	// StateActive, outside any session lock.
	OnReady func(*Session)

	// OnClosed runs when the session tears its configuration down,
	// outside any session lock. A binder typically unbinds here.
	OnClosed func(*Session)
}

// Session is one function instance: it accepts the two configuration
// blobs, materializes endpoint files, and mediates between the
// controlling process and the bound transport.
type Session struct {
	name string
	reg  *Registry
	opts Options

	state  atomic.Uint32
	refs   atomic.Int32
	opened atomic.Int32

	// mu serializes control-file I/O and the configuration stage
	// transitions it drives.
	mu sync.Mutex

	// ep0Opened enforces the single-opener rule for the control file.
	ep0Opened atomic.Bool

	// bound is set for the lifetime of one Bind/Unbind cycle.
	bound atomic.Bool

	// evMu guards the event queue, the cached setup packet, the
	// notifier, and (jointly with atomic access) the setup sub-state.
	evMu     sync.Mutex
	events   [maxEvents]desc.EventType
	evCount  int
	evWake   chan struct{}
	setup    atomic.Uint32
	setupPkt desc.SetupPacket
	notifier Notifier

	// epMu guards the endpoint file table, the live endpoint slots
	// hanging off it, and the bound function pointer.
	epMu    sync.Mutex
	epfiles []*EndpointFile
	epWake  chan struct{}
	fn      *Function

	blob    *desc.Blob
	strings *desc.StringTable

	copier *copyPool
}

func newSession(reg *Registry, name string, opts Options) *Session {
	s := &Session{
		name:   name,
		reg:    reg,
		opts:   opts,
		evWake: make(chan struct{}, 1),
		epWake: make(chan struct{}),
		copier: newCopyPool(opts.CopyWorkers),
	}
	s.refs.Store(1)
	return s
}

// Name returns the registry name the session was created under.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
}

// SetupState returns the current control-transfer sub-state.
func (s *Session) SetupState() SetupState {
	return SetupState(s.setup.Load())
}

// acquire takes a reference on the session.
func (s *Session) acquire() {
	s.refs.Add(1)
}

// release drops a reference; the final release detaches the session
// from its registry and tears down whatever configuration remains.
func (s *Session) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	pkg.LogDebug(pkg.ComponentSession, "session released", "name", s.name)
	prof.SessionClosed(s)
	s.clear()
	if s.reg != nil {
		s.reg.remove(s.name, s)
	}
}

// openedFile accounts for a new file handle. Opening the first handle
// of a deactivated session discards the stale configuration.
func (s *Session) openedFile() {
	s.acquire()
	if s.opened.Add(1) == 1 && s.State() == StateDeactivated {
		s.setState(StateClosing)
		s.reset()
	}
}

// closedFile accounts for a closed file handle. The last close either
// parks the session (NoDisconnect) or resets it for a fresh
// configuration cycle.
func (s *Session) closedFile() {
	if s.opened.Add(-1) == 0 {
		if s.opts.NoDisconnect {
			s.setState(StateDeactivated)
			s.destroyEndpointFiles()
			s.evMu.Lock()
			if s.SetupState() == SetupPending {
				s.stallLocked()
			}
			s.evMu.Unlock()
			pkg.LogInfo(pkg.ComponentSession, "session deactivated", "name", s.name)
		} else {
			s.setState(StateClosing)
			s.reset()
		}
	}
	s.release()
}

// reset returns the session to StateReadDescriptors, dropping both
// blobs and all derived configuration.
func (s *Session) reset() {
	s.clear()

	s.blob = nil
	s.strings = nil

	s.evMu.Lock()
	s.evCount = 0
	s.setup.Store(uint32(SetupNone))
	s.evMu.Unlock()

	s.setState(StateReadDescriptors)
	pkg.LogDebug(pkg.ComponentSession, "session reset", "name", s.name)
}

// clear tears down the configuration-derived state: the closed hook
// fires first so a binder can release the transport, then endpoint
// files and the notifier go away.
func (s *Session) clear() {
	if s.opts.OnClosed != nil {
		s.opts.OnClosed(s)
	}
	if fn := s.function(); fn != nil {
		fn.Unbind()
	}
	s.destroyEndpointFiles()
	s.evMu.Lock()
	n := s.notifier
	s.notifier = nil
	s.evMu.Unlock()
	if n != nil {
		n.Close()
	}
}

// createEndpointFiles materializes one endpoint file per endpoint
// declared by the blob. With virtual addressing the files are named
// after the declared addresses, otherwise after the 1-based index.
func (s *Session) createEndpointFiles() error {
	n := s.blob.EndpointCount
	files := make([]*EndpointFile, n)
	for i := range files {
		files[i] = newEndpointFile(s, i+1, s.blob.VirtualAddr())
	}
	s.epMu.Lock()
	s.epfiles = files
	s.broadcastEndpointsLocked()
	s.epMu.Unlock()
	pkg.LogDebug(pkg.ComponentSession, "endpoint files created",
		"name", s.name, "count", n)
	return nil
}

// destroyEndpointFiles marks every endpoint file dead and drops the
// table. Blocked endpoint I/O observes the error flag and fails with
// ErrNoDevice.
func (s *Session) destroyEndpointFiles() {
	s.epMu.Lock()
	for _, f := range s.epfiles {
		f.errFlag.Store(true)
		f.ep = nil
	}
	s.epfiles = nil
	s.broadcastEndpointsLocked()
	s.epMu.Unlock()
}

// EndpointFiles returns the endpoint files of an active session in
// declaration order, or nil before configuration completes.
func (s *Session) EndpointFiles() []*EndpointFile {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	files := make([]*EndpointFile, len(s.epfiles))
	copy(files, s.epfiles)
	return files
}

// EndpointFile returns the endpoint file with the given name, if any.
func (s *Session) EndpointFile(name string) (*EndpointFile, bool) {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	for _, f := range s.epfiles {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

// broadcastEndpointsLocked wakes everything blocked on an endpoint
// state change. Callers hold epMu.
func (s *Session) broadcastEndpointsLocked() {
	close(s.epWake)
	s.epWake = make(chan struct{})
}

// function returns the currently bound function, if any.
func (s *Session) function() *Function {
	s.epMu.Lock()
	defer s.epMu.Unlock()
	return s.fn
}

func (s *Session) ready() {
	pkg.LogInfo(pkg.ComponentSession, "session active",
		"name", s.name,
		"interfaces", s.blob.InterfaceCount,
		"endpoints", s.blob.EndpointCount)
	if s.opts.OnReady != nil {
		s.opts.OnReady(s)
	}
}

// notifySignal pokes the session notifier, if one was declared.
func (s *Session) notifySignal() {
	s.evMu.Lock()
	s.notifySignalLocked()
	s.evMu.Unlock()
}

// notifySignalLocked pokes the notifier with evMu held.
func (s *Session) notifySignalLocked() {
	if n := s.notifier; n != nil {
		if err := n.Signal(); err != nil {
			pkg.LogWarn(pkg.ComponentSession, "notifier signal failed",
				"name", s.name, "error", err)
		}
	}
}
