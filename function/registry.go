package function

import (
	"sort"
	"sync"

	"github.com/ardnew/funcfs/pkg"
	"github.com/ardnew/funcfs/pkg/prof"
)

// Registry tracks sessions by instance name. A name stays claimed for
// the session's whole lifetime; sessions detach themselves when their
// last reference drops.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session under name. The name must be unused.
func (r *Registry) Create(name string, opts Options) (*Session, error) {
	if name == "" {
		return nil, pkg.ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[name]; ok {
		return nil, pkg.ErrBusy
	}
	s := newSession(r, name, opts)
	r.sessions[name] = s
	prof.SessionOpened(s)
	pkg.LogInfo(pkg.ComponentRegistry, "session created", "name", name)
	return s, nil
}

// Find returns the session registered under name.
func (r *Registry) Find(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, pkg.ErrNoDevice
	}
	return s, nil
}

// Names returns the registered instance names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Destroy drops the registry's reference to a session and marks it
// closing. Endpoint I/O blocked or queued at that point fails with
// ErrNoDevice; open file handles keep the session object alive until
// they close.
func (r *Registry) Destroy(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	if !ok {
		return pkg.ErrNoDevice
	}
	s.setState(StateClosing)
	s.destroyEndpointFiles()
	s.release()
	return nil
}

// remove detaches a session on its final release. A no-op when
// Destroy already claimed the name.
func (r *Registry) remove(name string, s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[name]; ok && cur == s {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	pkg.LogDebug(pkg.ComponentRegistry, "session removed", "name", name)
}
