package function

import (
	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/pkg"
)

// maxEvents is the depth of the session event queue. The queue never
// overflows because coalescing guarantees a free slot for every event
// class before a new one is appended.
const maxEvents = 4

// enqueueEvent appends a lifecycle event to the session queue and
// wakes the control-file reader.
func (s *Session) enqueueEvent(t desc.EventType) {
	s.evMu.Lock()
	s.enqueueEventLocked(t)
	s.evMu.Unlock()
}

// enqueueEventLocked implements the queueing rules with evMu held.
// Any new event supersedes a pending setup. Suspend and setup events
// coalesce with themselves, and a resume purges a queued suspend
// along with any stale resume. Every other event obsoletes the whole
// queue apart from power management, so it purges everything except
// suspend and resume. These purges are what keep the queue within its
// fixed depth.
func (s *Session) enqueueEventLocked(t desc.EventType) {
	if s.SetupState() == SetupPending {
		s.setup.Store(uint32(SetupCancelled))
	}

	// With invert set the two types are the ones to keep instead.
	invert := false
	var purge1, purge2 desc.EventType
	switch t {
	case desc.EventResume:
		purge1, purge2 = desc.EventResume, desc.EventSuspend
	case desc.EventSuspend, desc.EventSetup:
		purge1, purge2 = t, t
	default:
		invert = true
		purge1, purge2 = desc.EventSuspend, desc.EventResume
	}

	kept := 0
	for i := 0; i < s.evCount; i++ {
		ev := s.events[i]
		if (ev == purge1 || ev == purge2) != invert {
			pkg.LogDebug(pkg.ComponentEvent, "event superseded",
				"name", s.name, "purged", ev.String(), "by", t.String())
			continue
		}
		s.events[kept] = ev
		kept++
	}
	s.events[kept] = t
	s.evCount = kept + 1

	pkg.LogDebug(pkg.ComponentEvent, "event queued",
		"name", s.name, "type", t.String(), "depth", s.evCount)

	select {
	case s.evWake <- struct{}{}:
	default:
	}
	s.notifySignalLocked()
}

// popEventsLocked serializes the first n queued events into buf and
// shifts the queue. Popping a setup event arms the pending sub-state
// and attaches the cached setup packet. Callers hold evMu.
func (s *Session) popEventsLocked(n int, buf []byte) int {
	used := 0
	for i := 0; i < n; i++ {
		ev := desc.Event{Type: s.events[i]}
		if ev.Type == desc.EventSetup {
			s.setup.Store(uint32(SetupPending))
			ev.Setup = s.setupPkt
		}
		used += ev.MarshalTo(buf[used:])
	}
	copy(s.events[:], s.events[n:s.evCount])
	s.evCount -= n
	return used
}

// clearCancelled atomically consumes a cancelled setup sub-state,
// returning true when one was pending cancellation.
func (s *Session) clearCancelled() bool {
	return s.setup.CompareAndSwap(uint32(SetupCancelled), uint32(SetupNone))
}

// setupStateLocked consumes a cancellation if one is latched and
// returns the resulting sub-state. Callers hold evMu.
func (s *Session) setupStateLocked() SetupState {
	if s.clearCancelled() {
		return SetupCancelled
	}
	return s.SetupState()
}
