package types

import "time"

// MicroVmStatus is a tagged variant describing where a service sits in
// its lifecycle. Exactly one of the Exit/Error-bearing constructors
// applies to the Stopped/Failed kinds; the zero value is StatusUnstarted.
type MicroVmStatus struct {
	Kind     StatusKind
	ExitCode int    // valid when Kind == StatusStopped
	Error    string // valid when Kind == StatusFailed
}

// StatusKind enumerates the lifecycle states from the data model.
type StatusKind string

const (
	StatusUnstarted StatusKind = "unstarted"
	StatusStarting  StatusKind = "starting"
	StatusStarted   StatusKind = "started"
	StatusStopping  StatusKind = "stopping"
	StatusStopped   StatusKind = "stopped"
	StatusFailed    StatusKind = "failed"
)

func Stopped(exitCode int) MicroVmStatus {
	return MicroVmStatus{Kind: StatusStopped, ExitCode: exitCode}
}

func Failed(err error) MicroVmStatus {
	return MicroVmStatus{Kind: StatusFailed, Error: err.Error()}
}

// MicroVmMetrics are point-in-time resource samples for a running
// microVM, gathered by polling the microvm_pid's /proc entries.
type MicroVmMetrics struct {
	CPUUsage    float64 // fraction, 0..1
	MemoryUsage uint64  // bytes
}

// MicroVmState is the runtime record for a live service: everything the
// Orchestrator's status() call reports.
type MicroVmState struct {
	PID         int // OS pid of the microvm process, 0 if not yet known
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Service     Service
	Group       Group
	RootfsPath  string
	Status      MicroVmStatus
	Metrics     MicroVmMetrics
}
