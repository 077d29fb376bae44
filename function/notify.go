package function

import (
	"sync/atomic"

	"github.com/ardnew/funcfs/pkg"
)

// Notifier receives a poke whenever the session queues a lifecycle
// event or delivers an asynchronous completion, so a consumer
// multiplexing many sessions need not poll each one.
type Notifier interface {
	Signal() error
	Close() error
}

// makeNotifier converts the notifier handle declared by a descriptor
// blob into a live Notifier.
func (s *Session) makeNotifier(handle int) (Notifier, error) {
	if s.opts.NewNotifier != nil {
		return s.opts.NewNotifier(handle)
	}
	return notifierFromHandle(handle)
}

// ChannelNotifier delivers notifications on a channel. Signals
// coalesce: a slow receiver sees at least one pending notification,
// not one per signal.
type ChannelNotifier struct {
	ch     chan struct{}
	closed atomic.Bool
}

// NewChannelNotifier creates a channel-backed notifier.
func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan struct{}, 1)}
}

// C returns the notification channel.
func (n *ChannelNotifier) C() <-chan struct{} {
	return n.ch
}

// Signal posts a notification without blocking.
func (n *ChannelNotifier) Signal() error {
	if n.closed.Load() {
		return pkg.ErrClosed
	}
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

// Close stops the notifier. The channel is left open so concurrent
// receivers drain safely.
func (n *ChannelNotifier) Close() error {
	n.closed.Store(true)
	return nil
}
