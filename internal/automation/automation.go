// Package automation is the boundary contract to the host-level scheduler
// that can fire playback independently of the chimed process. On Linux the
// facility is systemd user timers over D-Bus; elsewhere the facility is
// reported unavailable and device-sourced schedules degrade to in-process
// triggering alone.
//
// The probe-then-call pattern is modeled as a capability result: Probe
// either fails with ErrUnavailable or returns a Handle bound to a live
// connection, so there is no race between the availability check and the
// privileged call that follows it.
package automation

import (
	"context"
	"errors"
	"time"
)

// Config configures the facility adapter.
type Config struct {
	Enabled bool
	// UnitDir is where unit files are written; default ~/.config/systemd/user.
	UnitDir string
	// PlayerCommand is the ExecStart template; "{file}" is replaced with
	// the job's file path.
	PlayerCommand string
	// Timeout bounds every facility call; default 5s.
	Timeout time.Duration
}

var (
	ErrUnavailable = errors.New("automation facility unavailable")
	ErrRejected    = errors.New("automation facility rejected the operation")
)

// Job describes one recurring external task, keyed by the schedule id.
type Job struct {
	ID       string
	FilePath string // playable locator; a resolvable path is strongly preferred
	Time     string // "HH:MM"
	Days     []int  // 0=Sunday .. 6=Saturday
}

// Status of a provisioned job.
type Status struct {
	Exists  bool
	Enabled bool
}

// Handle is a live capability on the external facility. All operations are
// idempotent; Delete of an absent job is not an error. Callers should
// obtain a fresh handle per operation batch and Close it afterwards.
type Handle interface {
	Create(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (Status, error)
	// RunOnce fires a one-shot playback of the given file through the
	// facility's own execution pipeline, without touching any recurring job.
	RunOnce(ctx context.Context, filePath string) error
	Close()
}

// Facility probes the external scheduler. Probe never panics and returns
// ErrUnavailable (not a crash) when the facility is absent or unreachable.
type Facility interface {
	Probe(ctx context.Context) (Handle, error)
}
