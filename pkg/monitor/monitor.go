package monitor

import (
	"fmt"

	"github.com/monocore/monocore/pkg/ioplex"
)

// ProcessMonitor is installed around a supervised child. Start is
// called once the child's pid and I/O descriptors are known; Stop tears
// down everything Start set up, including on a failed or killed child.
type ProcessMonitor interface {
	Start(pid int, name string, childIO ioplex.ChildIO) error
	Stop() error
}

// LogPathReporter is implemented by monitors that compute a console log
// path a supervised child needs to learn about after it has already
// been spawned, rather than deriving it independently. Supervisor uses
// this to hand the path to the child over its stdin pipe instead of
// having the child recompute or re-persist it itself.
type LogPathReporter interface {
	LogPath() string
}

// DefaultLogMaxSizeBytes and DefaultLogMaxBackups are the size and
// backup-count limits every monitor passes to its rotating log.
const (
	DefaultLogMaxSizeBytes = ioplex.DefaultMaxSizeBytes
	DefaultLogMaxBackups   = ioplex.DefaultMaxBackups
)

func logName(prefix, name string, timestampFirst bool, timestamp, pid int) string {
	if timestampFirst {
		return fmt.Sprintf("%s-%s-%d-%d.%s", prefix, name, timestamp, pid, ioplex.LogSuffix)
	}
	return fmt.Sprintf("%s-%s-%d-%d.%s", prefix, name, pid, timestamp, ioplex.LogSuffix)
}
