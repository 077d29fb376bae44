package function_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/funcfs/desc"
	"github.com/ardnew/funcfs/function"
	"github.com/ardnew/funcfs/function/hal"
	"github.com/ardnew/funcfs/pkg"
)

func TestConfigurationFlow(t *testing.T) {
	var ready bool
	opts := function.Options{OnReady: func(*function.Session) { ready = true }}
	s, _ := newActive(t, opts, 0, 0x81, 0x01)

	assert.True(t, ready)
	assert.Equal(t, "lb", s.Name())

	files := s.EndpointFiles()
	require.Len(t, files, 2)
	assert.Equal(t, "ep1", files[0].Name())
	assert.Equal(t, "ep2", files[1].Name())
	assert.Equal(t, 1, files[0].Index())

	_, ok := s.EndpointFile("ep2")
	assert.True(t, ok)
	_, ok = s.EndpointFile("ep9")
	assert.False(t, ok)
}

func TestVirtualAddrFileNames(t *testing.T) {
	s, _ := newActive(t, function.Options{}, desc.VirtualAddr, 0x83, 0x01)

	files := s.EndpointFiles()
	require.Len(t, files, 2)
	assert.Equal(t, "ep83", files[0].Name())
	assert.Equal(t, "ep01", files[1].Name())
}

func TestControlSingleOpener(t *testing.T) {
	reg := function.NewRegistry()
	s, err := reg.Create("solo", function.Options{})
	require.NoError(t, err)

	ep0, err := s.OpenControl()
	require.NoError(t, err)

	_, err = s.OpenControl()
	assert.ErrorIs(t, err, pkg.ErrBusy)

	require.NoError(t, ep0.Close())
	assert.ErrorIs(t, ep0.Close(), pkg.ErrClosed)

	ep0, err = s.OpenControl()
	require.NoError(t, err)
	require.NoError(t, ep0.Close())
}

func TestShortDescriptorBlobRejected(t *testing.T) {
	reg := function.NewRegistry()
	s, err := reg.Create("short", function.Options{})
	require.NoError(t, err)
	ep0, err := s.OpenControl()
	require.NoError(t, err)

	_, err = ep0.Write(testCtx(t), make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)
	assert.Equal(t, function.StateReadDescriptors, s.State())
}

func TestRejectedBlobKeepsState(t *testing.T) {
	reg := function.NewRegistry()
	s, err := reg.Create("retry", function.Options{})
	require.NoError(t, err)
	ep0, err := s.OpenControl()
	require.NoError(t, err)

	bad := loopbackBlob(0, 0x81, 0x01)
	bad[0] = 0xEE // corrupt magic
	_, err = ep0.Write(testCtx(t), bad)
	require.Error(t, err)
	assert.Equal(t, function.StateReadDescriptors, s.State())

	// The same handle accepts a valid blob afterwards.
	_, err = ep0.Write(testCtx(t), loopbackBlob(0, 0x81, 0x01))
	require.NoError(t, err)
	assert.Equal(t, function.StateReadStrings, s.State())
}

func TestLastCloseResetsSession(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)

	require.NoError(t, ep0.Close())
	assert.Equal(t, function.StateReadDescriptors, s.State())
	assert.Empty(t, s.EndpointFiles())

	// The session accepts a fresh configuration cycle.
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	ctx := testCtx(t)
	_, err = ep0.Write(ctx, loopbackBlob(0, 0x82, 0x02))
	require.NoError(t, err)
	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)
	assert.Equal(t, function.StateActive, s.State())
}

func TestNoDisconnectDeactivates(t *testing.T) {
	s, ep0 := newActive(t, function.Options{NoDisconnect: true}, 0, 0x81, 0x01)

	require.NoError(t, ep0.Close())
	assert.Equal(t, function.StateDeactivated, s.State())

	// Reopening discards the stale configuration.
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	defer ep0.Close()
	assert.Equal(t, function.StateReadDescriptors, s.State())
}

func TestOnClosedHook(t *testing.T) {
	closed := make(chan struct{}, 1)
	opts := function.Options{OnClosed: func(*function.Session) { closed <- struct{}{} }}
	_, ep0 := newActive(t, opts, 0, 0x81, 0x01)

	require.NoError(t, ep0.Close())
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("closed hook never fired")
	}
}

func TestCloseUnbindsFunction(t *testing.T) {
	s, ep0 := newActive(t, function.Options{}, 0, 0x81, 0x01)
	_, tr := bindLoop(t, s, hal.SpeedFull)

	require.NoError(t, ep0.Close())

	// Claimed endpoints went back to the transport.
	_, ok := tr.Host(0x81)
	assert.False(t, ok)

	// A new configuration cycle can bind again.
	ep0, err := s.OpenControl()
	require.NoError(t, err)
	ctx := testCtx(t)
	_, err = ep0.Write(ctx, loopbackBlob(0, 0x81, 0x01))
	require.NoError(t, err)
	_, err = ep0.Write(ctx, loopbackStrings())
	require.NoError(t, err)
	bindLoop(t, s, hal.SpeedFull)
}

func TestRegistry(t *testing.T) {
	reg := function.NewRegistry()

	_, err := reg.Create("", function.Options{})
	assert.ErrorIs(t, err, pkg.ErrInvalidRequest)

	a, err := reg.Create("a", function.Options{})
	require.NoError(t, err)
	_, err = reg.Create("b", function.Options{})
	require.NoError(t, err)

	_, err = reg.Create("a", function.Options{})
	assert.ErrorIs(t, err, pkg.ErrBusy)

	assert.Equal(t, []string{"a", "b"}, reg.Names())

	found, err := reg.Find("a")
	require.NoError(t, err)
	assert.Same(t, a, found)

	require.NoError(t, reg.Destroy("a"))
	_, err = reg.Find("a")
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
	assert.ErrorIs(t, reg.Destroy("a"), pkg.ErrNoDevice)

	// The freed name is available again.
	_, err = reg.Create("a", function.Options{})
	require.NoError(t, err)
}

func TestDestroyedSessionRejectsControl(t *testing.T) {
	reg := function.NewRegistry()
	s, err := reg.Create("gone", function.Options{})
	require.NoError(t, err)
	require.NoError(t, reg.Destroy("gone"))

	_, err = s.OpenControl()
	assert.ErrorIs(t, err, pkg.ErrClosed)
}
