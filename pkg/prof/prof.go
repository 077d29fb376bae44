//go:build profile

package prof

import (
	"errors"
	"io"
	"net/http"
	"os"
	"runtime/pprof"
	"sync"

	_ "net/http/pprof" // Register HTTP handlers at /debug/pprof/
)

// Profiling errors.
var (
	// ErrCPUActive indicates a CPU capture is already running.
	ErrCPUActive = errors.New("cpu capture already active")

	// ErrUnknownProfile indicates a snapshot name the runtime does not
	// know.
	ErrUnknownProfile = errors.New("unknown profile")
)

// SessionProfile is the name of the custom profile tracking live
// sessions.
const SessionProfile = "funcfs.sessions"

// sessions records every live session by its creation stack, so a
// snapshot can be correlated with the functions a process had
// configured at the time.
var sessions = pprof.NewProfile(SessionProfile)

func init() {
	if addr := os.Getenv("FUNCFS_PPROF_ADDR"); addr != "" {
		go func() {
			println(http.ListenAndServe(addr, nil))
		}()
	}
}

// SessionOpened records a live session under key, which must stay
// unique until SessionClosed removes it.
func SessionOpened(key any) {
	sessions.Add(key, 2)
}

// SessionClosed drops a session recorded by SessionOpened.
func SessionClosed(key any) {
	sessions.Remove(key)
}

var (
	// cpuMu protects the CPU capture state.
	cpuMu sync.Mutex

	// cpuFile holds the file handle when capturing to a path.
	cpuFile *os.File

	// cpuActive indicates whether a CPU capture is running.
	cpuActive bool
)

// StartCPU begins streaming a CPU capture to the file at path.
// Returns [ErrCPUActive] if a capture is already running.
func StartCPU(path string) error {
	cpuMu.Lock()
	defer cpuMu.Unlock()

	if cpuActive {
		return ErrCPUActive
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}

	cpuFile = f
	cpuActive = true
	return nil
}

// StopCPU ends a running CPU capture. Safe to call when none is
// running.
func StopCPU() {
	cpuMu.Lock()
	defer cpuMu.Unlock()

	if !cpuActive {
		return
	}
	pprof.StopCPUProfile()

	if cpuFile != nil {
		cpuFile.Close()
		cpuFile = nil
	}
	cpuActive = false
}

// Snapshot writes the named profile to w in binary protobuf form. The
// name is any profile the runtime knows, including [SessionProfile].
// CPU capture has no snapshot; use [StartCPU] and [StopCPU].
func Snapshot(name string, w io.Writer) error {
	return SnapshotDebug(name, w, 0)
}

// SnapshotDebug writes the named profile with the given pprof debug
// level; level 1 produces human-readable text instead of protobuf.
func SnapshotDebug(name string, w io.Writer, debug int) error {
	p := pprof.Lookup(name)
	if p == nil {
		return ErrUnknownProfile
	}
	return p.WriteTo(w, debug)
}
