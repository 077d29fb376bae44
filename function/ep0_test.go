package function_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

func TestEventReadBlocksUntilBind(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)

	type result struct {
		n   int
		err error
		buf []byte
	}
	got := make(chan result, 1)
	go func() {
		buf := make([]byte, desc.EventRecordSize)
		n, err := ep0.Read(testCtx(t), buf)
		got <- result{n, err, buf}
	}()

	bindLoop(t, s, hal.SpeedFull)

	res := <-got
	require.NoError(t, res.err)
	require.Equal(t, desc.EventRecordSize, res.n)

	var ev desc.Event
	require.NoError(t, desc.ParseEvent(res.buf, &ev))
	assert.Equal(t, desc.EventBind, ev.Type)
	assert.Zero(t, ev.Setup)
}

func TestEventReadNonblock(t *testing.T) {
	_, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	ep0.SetNonblock(true)
	defer ep0.SetNonblock(false)

	buf := make([]byte, desc.EventRecordSize)
	_, err := ep0.Read(testCtx(t), buf)
	assert.ErrorIs(t, err, pkg.ErrWouldBlock)
}

func TestEventReadShortBuffer(t *testing.T) {
	_, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)

	_, err := ep0.Read(testCtx(t), make([]byte, desc.EventRecordSize-1))
	assert.ErrorIs(t, err, pkg.ErrBufferTooSmall)
}

func TestEventCoalescing(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, _ := bindLoop(t, s, hal.SpeedFull)
	require.NoError(t, fn.Enable())
	expectEvents(t, ep0, desc.EventBind, desc.EventEnable)

	// Two suspends coalesce; the resume purges the survivor and any
	// stale resume of its own.
	fn.Suspend()
	fn.Suspend()
	fn.Resume()
	expectEvents(t, ep0, desc.EventResume)

	// Suspend then a lifecycle event: the suspend is purged.
	fn.Suspend()
	require.NoError(t, fn.Disable())
	expectEvents(t, ep0, desc.EventDisable)
}

func TestSetupReplacesQueuedSetup(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, _ := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	first := desc.SetupPacket{RequestType: 0xC1, Request: 0x01, Index: 0, Length: 4}
	second := desc.SetupPacket{RequestType: 0xC1, Request: 0x02, Index: 0, Length: 8}
	require.NoError(t, fn.HandleSetup(first))
	require.NoError(t, fn.HandleSetup(second))

	events := readEvents(t, ep0, 4)
	require.Len(t, events, 1)
	assert.Equal(t, desc.EventSetup, events[0].Type)
	assert.Equal(t, second.Request, events[0].Setup.Request)
}

func TestSetupDeviceToHost(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, tr := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	// Interface-addressed vendor request; wIndex carries the
	// composite interface number 1, which maps back to descriptor
	// interface 1.
	pkt := desc.SetupPacket{RequestType: 0xC1, Request: 0x20, Value: 7, Index: 1, Length: 8}
	require.NoError(t, fn.HandleSetup(pkt))

	events := readEvents(t, ep0, 1)
	require.Equal(t, desc.EventSetup, events[0].Type)
	assert.Equal(t, uint16(1), events[0].Setup.Index)
	assert.Equal(t, uint16(7), events[0].Setup.Value)

	host, ok := tr.Host(0)
	require.True(t, ok)
	got := make(chan []byte, 1)
	go func() {
		data, err := host.HostRead(testCtx(t))
		if err != nil {
			data = nil
		}
		got <- data
	}()

	// The response is truncated to the request's declared length.
	n, err := ep0.Write(testCtx(t), []byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte("01234567"), <-got)

	assert.Equal(t, function.SetupNone, s.SetupState())
}

func TestSetupHostToDevice(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, tr := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	pkt := desc.SetupPacket{RequestType: 0x41, Request: 0x21, Index: 0, Length: 4}
	require.NoError(t, fn.HandleSetup(pkt))
	events := readEvents(t, ep0, 1)
	require.Equal(t, desc.EventSetup, events[0].Type)

	host, ok := tr.Host(0)
	require.True(t, ok)
	require.NoError(t, host.HostWrite([]byte("abcd")))

	buf := make([]byte, 16)
	n, err := ep0.Read(testCtx(t), buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("abcd"), buf[:n])
	assert.Equal(t, function.SetupNone, s.SetupState())
}

func TestSetupWrongDirectionStalls(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, tr := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	// Host-to-device request answered with a write: protocol error.
	pkt := desc.SetupPacket{RequestType: 0x41, Request: 0x21, Index: 0, Length: 4}
	require.NoError(t, fn.HandleSetup(pkt))
	readEvents(t, ep0, 1)

	_, err := ep0.Write(testCtx(t), []byte("oops"))
	assert.ErrorIs(t, err, pkg.ErrStall)

	host, _ := tr.Host(0)
	assert.True(t, host.Halted())
	assert.Equal(t, function.SetupNone, s.SetupState())
}

func TestSetupWrongDirectionNoStall(t *testing.T) {
	s, ep0 := newActive(t, function.Options{NoStall: true}, 0, 0x81, 0x01)
	fn, tr := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	pkt := desc.SetupPacket{RequestType: 0x41, Request: 0x21, Index: 0, Length: 4}
	require.NoError(t, fn.HandleSetup(pkt))
	readEvents(t, ep0, 1)

	_, err := ep0.Write(testCtx(t), []byte("oops"))
	assert.ErrorIs(t, err, pkg.ErrNoSetup)

	host, _ := tr.Host(0)
	assert.False(t, host.Halted())
	// The request is still answerable.
	assert.Equal(t, function.SetupPending, s.SetupState())
}

func TestSetupCancelledByNewEvent(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, _ := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	pkt := desc.SetupPacket{RequestType: 0xC1, Request: 0x20, Index: 0, Length: 8}
	require.NoError(t, fn.HandleSetup(pkt))
	readEvents(t, ep0, 1)
	require.Equal(t, function.SetupPending, s.SetupState())

	fn.Suspend()

	_, err := ep0.Write(testCtx(t), []byte("late"))
	assert.ErrorIs(t, err, pkg.ErrSetupCancelled)

	// The cancellation is consumed; the suspend event is still there.
	expectEvents(t, ep0, desc.EventSuspend)
}

func TestWriteWithoutSetup(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	bindLoop(t, s, hal.SpeedFull)

	_, err := ep0.Write(testCtx(t), []byte("data"))
	assert.ErrorIs(t, err, pkg.ErrNoSetup)
}

func TestSetupEndpointRecipient(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, _ := bindLoop(t, s, hal.SpeedFull)
	expectEvents(t, ep0, desc.EventBind)

	// Endpoint-addressed request carrying the real IN address.
	pkt := desc.SetupPacket{RequestType: 0xC2, Request: 0x30, Index: 0x81, Length: 2}
	require.NoError(t, fn.HandleSetup(pkt))

	events := readEvents(t, ep0, 1)
	require.Equal(t, desc.EventSetup, events[0].Type)
	// Rewritten to the 1-based declared endpoint index.
	assert.Equal(t, uint16(1), events[0].Setup.Index)
}

func TestSetupUnknownRecipient(t *testing.T) {
	s, _ := newActive(t, function.Options{}, 0, 0x81, 0x01)
	fn, _ := bindLoop(t, s, hal.SpeedFull)

	pkt := desc.SetupPacket{RequestType: 0xC0, Request: 0x01} // device recipient
	assert.ErrorIs(t, fn.HandleSetup(pkt), pkg.ErrNotSupported)

	pkt = desc.SetupPacket{RequestType: 0xC1, Request: 0x01, Index: 99}
	assert.ErrorIs(t, fn.HandleSetup(pkt), pkg.ErrNoMapping)
}

func TestInterfaceRevMap(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	bindLoop(t, s, hal.SpeedFull)

	idx, err := ep0.InterfaceRevMap(1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = ep0.InterfaceRevMap(42)
	assert.ErrorIs(t, err, pkg.ErrNoMapping)
}

func TestPollReadiness(t *testing.T) {
	reg := function.NewRegistry()
	s, err := reg.Create("poll", function.Options{})
	require.NoError(t, err)
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	ctx := testCtx(t)

	// Collecting states advertise writability for the blobs.
	assert.Equal(t, function.ReadyWrite|function.ReadyConfig, ep0.Poll())

	_, err = ep0.Write(ctx, loopbackBlob(0, 0x81, 0x01))
	require.NoError(t, err)
	assert.Equal(t, function.ReadyWrite|function.ReadyConfig, ep0.Poll())

	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)
	assert.Equal(t, function.ReadyWrite, ep0.Poll())

	fn, _ := bindLoop(t, s, hal.SpeedFull)
	assert.Equal(t, function.ReadyWrite|function.ReadyRead, ep0.Poll())
	expectEvents(t, ep0, desc.EventBind)
	assert.Equal(t, function.ReadyWrite, ep0.Poll())

	pkt := desc.SetupPacket{RequestType: 0xC1, Request: 0x20, Index: 0, Length: 8}
	require.NoError(t, fn.HandleSetup(pkt))
	readEvents(t, ep0, 1)
	assert.Equal(t, function.ReadyWrite|function.ReadyRead, ep0.Poll())
}

func TestEventNotifier(t *testing.T) {
	notifier := function.NewChannelNotifier()
	opts := function.Options{
		NewNotifier: func(handle int) (function.Notifier, error) {
			assert.Equal(t, 7, handle)
			return notifier, nil
		},
	}

	reg := function.NewRegistry()
	s, err := reg.Create("notify", opts)
	require.NoError(t, err)
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	ctx := testCtx(t)

	raw, count := loopbackDescriptors(0x81, 0x01)
	blob := new(desc.BlobBuilder).
		SetTier(desc.TierFull, count, raw).
		SetNotifier(7).
		Bytes()
	_, err = ep0.Write(ctx, blob)
	require.NoError(t, err)
	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)

	bindLoop(t, s, hal.SpeedFull)
	select {
	case <-notifier.C():
	case <-ctx.Done():
		t.Fatal("no notification for bind event")
	}
}

func TestNotifierSignalsDuringTeardown(t *testing.T) {
	notifier := function.NewChannelNotifier()
	opts := function.Options{
		NewNotifier: func(int) (function.Notifier, error) {
			return notifier, nil
		},
	}

	reg := function.NewRegistry()
	s, err := reg.Create("notify", opts)
	require.NoError(t, err)
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	ctx := testCtx(t)

	raw, count := loopbackDescriptors(0x81, 0x01)
	blob := new(desc.BlobBuilder).
		SetTier(desc.TierFull, count, raw).
		SetNotifier(7).
		Bytes()
	_, err = ep0.Write(ctx, blob)
	require.NoError(t, err)
	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)

	fn, _ := bindLoop(t, s, hal.SpeedFull)

	// Pump events while the session tears down and releases the
	// notifier. The signals race the teardown but must never observe
	// a half-cleared notifier.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			fn.Suspend()
			fn.Resume()
		}
	}()
	require.NoError(t, ep0.Close())
	<-done
}
