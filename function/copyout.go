package function

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// defaultCopyWorkers bounds concurrent asynchronous completion
// deliveries when Options.CopyWorkers is zero.
const defaultCopyWorkers = 8

// copyPool bounds how many asynchronous completions deliver
// concurrently, keeping a slow consumer from fanning out unbounded
// copy work.
type copyPool struct {
	sem *semaphore.Weighted
}

func newCopyPool(n int64) *copyPool {
	if n <= 0 {
		n = defaultCopyWorkers
	}
	return &copyPool{sem: semaphore.NewWeighted(n)}
}

// submit runs fn on its own goroutine once a delivery slot frees up.
// It never blocks the caller, so it is safe from a transport's
// completion context.
func (p *copyPool) submit(fn func()) {
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}
