// Package prof exposes runtime diagnostics for the function engine.
//
// The custom profile named by [SessionProfile] tracks every live
// session by its creation stack, so a heap or goroutine snapshot can
// be correlated with the functions a process had configured at the
// time. The registry records sessions as they are created and drops
// them on their final release.
//
// The package is conditionally compiled with the "profile" build tag:
//
//	go build -tags profile
//	go test -tags profile
//
// Without the tag every entry point is a no-op, so call sites stay
// wired in release builds at no cost.
//
// # HTTP access
//
// With the tag set, the package serves the standard /debug/pprof/
// handlers when FUNCFS_PPROF_ADDR names a listen address:
//
//	FUNCFS_PPROF_ADDR=localhost:6060 funcfs loopback
//
// The session profile then appears at
// /debug/pprof/funcfs.sessions alongside the runtime profiles.
//
// # CPU capture
//
// CPU samples stream to a file and require explicit start and stop:
//
//	prof.StartCPU("cpu.prof")
//	defer prof.StopCPU()
//
// Starting a capture while one is running returns [ErrCPUActive].
//
// # Snapshots
//
// Every other profile is a point-in-time snapshot:
//
//	prof.Snapshot(prof.SessionProfile, w)
//	prof.Snapshot("goroutine", w)
//
// Use [SnapshotDebug] with debug level 1 for human-readable text
// instead of binary protobuf.
package prof
