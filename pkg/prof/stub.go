//go:build !profile

package prof

import "io"

// Profiling errors (defined for API compatibility but never returned
// by the stubs).
var (
	// ErrCPUActive indicates a CPU capture is already running.
	ErrCPUActive error

	// ErrUnknownProfile indicates a snapshot name the runtime does not
	// know.
	ErrUnknownProfile error
)

// SessionProfile is the name of the custom profile tracking live
// sessions.
const SessionProfile = "funcfs.sessions"

// SessionOpened is a no-op when built without the "profile" tag.
func SessionOpened(_ any) {}

// SessionClosed is a no-op when built without the "profile" tag.
func SessionClosed(_ any) {}

// StartCPU is a no-op when built without the "profile" tag.
func StartCPU(_ string) error {
	return nil
}

// StopCPU is a no-op when built without the "profile" tag.
func StopCPU() {}

// Snapshot is a no-op when built without the "profile" tag.
func Snapshot(_ string, _ io.Writer) error {
	return nil
}

// SnapshotDebug is a no-op when built without the "profile" tag.
func SnapshotDebug(_ string, _ io.Writer, _ int) error {
	return nil
}
