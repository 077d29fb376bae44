package hal_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

func TestRequestCompleteOnce(t *testing.T) {
	r := hal.NewRequest(make([]byte, 8))

	_, err := r.Outcome()
	assert.ErrorIs(t, err, pkg.ErrBusy)
	assert.False(t, r.IsCompleted())

	calls := 0
	r.Callback = func(*hal.Request) { calls++ }

	r.Complete(pkg.IOStatusSuccess, 5, nil)
	r.Complete(pkg.IOStatusError, 0, nil) // ignored

	<-r.Done()
	require.True(t, r.IsCompleted())
	assert.Equal(t, 1, calls)

	n, err := r.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRequestConcurrentComplete(t *testing.T) {
	r := hal.NewRequest(nil)

	var calls int
	var mu sync.Mutex
	r.Callback = func(*hal.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Complete(pkg.IOStatusSuccess, 1, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestRequestOutcomeErrors(t *testing.T) {
	cases := []struct {
		status pkg.IOStatus
		want   error
	}{
		{pkg.IOStatusStall, pkg.ErrStall},
		{pkg.IOStatusCancelled, pkg.ErrCancelled},
		{pkg.IOStatusOverflow, pkg.ErrOverflow},
		{pkg.IOStatusShutdown, pkg.ErrEndpointChanged},
	}
	for _, tc := range cases {
		r := hal.NewRequest(nil)
		r.Complete(tc.status, 0, nil)
		_, err := r.Outcome()
		assert.ErrorIs(t, err, tc.want, tc.status.String())
	}
}

func TestRequestCancelFlag(t *testing.T) {
	r := hal.NewRequest(nil)
	assert.False(t, r.IsCancelled())
	r.Cancel()
	assert.True(t, r.IsCancelled())

	// Cancel alone does not complete; the transport does.
	assert.False(t, r.IsCompleted())
	r.Complete(pkg.IOStatusCancelled, 0, nil)
	_, err := r.Outcome()
	assert.ErrorIs(t, err, pkg.ErrCancelled)
}

func TestRequestPoolReuse(t *testing.T) {
	p := hal.NewRequestPool()

	r := p.Get()
	r.Buf = []byte("abc")
	r.In = true
	r.Complete(pkg.IOStatusError, 3, nil)
	r.Cancel()
	p.Put(r)

	r2 := p.Get()
	require.False(t, r2.IsCompleted())
	assert.False(t, r2.IsCancelled())
	assert.False(t, r2.In)
	assert.Nil(t, r2.Buf)

	// The reset request delivers a fresh completion cycle.
	r2.Complete(pkg.IOStatusSuccess, 0, nil)
	<-r2.Done()
}
