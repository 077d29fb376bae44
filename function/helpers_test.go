package function_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/function/hal/loop"
)

const testTimeout = 5 * time.Second

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// loopbackDescriptors builds one tier of a two-interface loopback
// function: a data interface carrying a bulk IN and a bulk OUT
// endpoint, and a bare control interface. The data interface names
// string 1.
func loopbackDescriptors(inAddr, outAddr uint8) (raw []byte, count int) {
	raw = desc.AppendInterface(nil, 0, 2, 0xFF, 0x42, 1, 1)
	raw = desc.AppendBulkEndpoint(raw, inAddr, 64)
	raw = desc.AppendBulkEndpoint(raw, outAddr, 64)
	raw = desc.AppendInterface(raw, 1, 0, 0xFF, 0x42, 2, 0)
	return raw, 4
}

func loopbackBlob(flags uint32, inAddr, outAddr uint8) []byte {
	raw, count := loopbackDescriptors(inAddr, outAddr)
	return new(desc.BlobBuilder).
		SetFlags(flags).
		SetTier(desc.TierFull, count, raw).
		Bytes()
}

func loopbackStrings() []byte {
	return desc.BuildStrings([]desc.Language{
		{ID: 0x0409, Strings: []string{"Loopback"}},
	})
}

// newActive creates a registered session and drives it to StateActive
// with the standard loopback configuration.
func newActive(t *testing.T, opts function.Options, flags uint32, inAddr, outAddr uint8) (*function.Session, *function.ControlFile) {
	t.Helper()
	ctx := testCtx(t)

	reg := function.NewRegistry()
	s, err := reg.Create("lb", opts)
	require.NoError(t, err)

	ep0, err := s.OpenControl()
	require.NoError(t, err)

	n, err := ep0.Write(ctx, loopbackBlob(flags, inAddr, outAddr))
	require.NoError(t, err)
	require.Positive(t, n)
	require.Equal(t, function.StateReadStrings, s.State())

	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)
	require.Equal(t, function.StateActive, s.State())

	return s, ep0
}

// bindLoop binds the session to a fresh loopback transport.
func bindLoop(t *testing.T, s *function.Session, speed hal.Speed) (*function.Function, *loop.Transport) {
	t.Helper()
	tr := loop.New(speed)
	fn, err := function.Bind(s, tr, new(function.SimpleAllocator))
	require.NoError(t, err)
	return fn, tr
}

// readEvents reads up to max event records from the control file.
func readEvents(t *testing.T, ep0 *function.ControlFile, max int) []desc.Event {
	t.Helper()
	buf := make([]byte, max*desc.EventRecordSize)
	n, err := ep0.Read(testCtx(t), buf)
	require.NoError(t, err)
	require.Zero(t, n%desc.EventRecordSize)

	events := make([]desc.Event, 0, n/desc.EventRecordSize)
	for off := 0; off < n; off += desc.EventRecordSize {
		var ev desc.Event
		require.NoError(t, desc.ParseEvent(buf[off:], &ev))
		events = append(events, ev)
	}
	return events
}

// expectEvents asserts the next event records in order.
func expectEvents(t *testing.T, ep0 *function.ControlFile, want ...desc.EventType) {
	t.Helper()
	events := readEvents(t, ep0, len(want))
	require.Len(t, events, len(want))
	for i, ev := range events {
		require.Equal(t, want[i], ev.Type, "event %d", i)
	}
}
