package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/monocore/monocore/pkg/ioplex"
	"github.com/monocore/monocore/pkg/storage"
	"github.com/monocore/monocore/pkg/types"
)

// MFSRunLogPrefix is the filename prefix an NFS server supervisor's log
// carries.
const MFSRunLogPrefix = "mfsrun"

// NfsServerMonitor tracks a single NFS server's filesystem row. Unlike
// MicroVmMonitor it has no output forwarding or stdin copying: the NFS server
// always runs piped, and its stop deletes the one log file it created
// rather than sweeping the whole directory by retention.
type NfsServerMonitor struct {
	store    storage.Store
	mountDir string
	logDir   string
	logger   zerolog.Logger

	mu            sync.Mutex
	supervisorPID int
	rlog          *ioplex.RotatingLog
	logPath       string
}

// NewNfsServerMonitor returns a monitor for an NFS server mounted at
// mountDir. go-nfs runs its server loop in-process, so the pid Start
// receives is recorded as both the filesystem row's supervisor and NFS
// server pid.
func NewNfsServerMonitor(store storage.Store, mountDir, logDir string, logger zerolog.Logger) *NfsServerMonitor {
	return &NfsServerMonitor{
		store:    store,
		mountDir: mountDir,
		logDir:   logDir,
		logger:   logger.With().Str("component", "nfs_monitor").Logger(),
	}
}

// Start opens the rotating log, begins copying the server's piped
// stdout/stderr into it, and inserts the filesystem row.
func (m *NfsServerMonitor) Start(pid int, name string, childIO ioplex.ChildIO) error {
	ts := time.Now().Unix()
	logFile := logName(MFSRunLogPrefix, name, false, int(ts), pid)
	logPath := filepath.Join(m.logDir, logFile)

	rlog, err := ioplex.NewRotatingLog(logPath, DefaultLogMaxSizeBytes, DefaultLogMaxBackups)
	if err != nil {
		return err
	}

	plexer := ioplex.NewPlexer(rlog, false, m.logger)
	pipedOnly := childIO
	pipedOnly.Stdin = nil
	if err := plexer.Start(pipedOnly); err != nil {
		rlog.Close()
		return err
	}

	m.mu.Lock()
	m.supervisorPID = pid
	m.rlog = rlog
	m.logPath = logPath
	m.mu.Unlock()

	if err := m.store.CreateFilesystem(&types.FilesystemRow{
		Name:          name,
		MountDir:      m.mountDir,
		SupervisorPID: pid,
		NFSServerPID:  pid,
	}); err != nil {
		return fmt.Errorf("insert filesystem row: %w", err)
	}

	return nil
}

// Stop removes the filesystem row and deletes the log file this
// monitor created. Failure to delete the log file is logged, not
// returned.
func (m *NfsServerMonitor) Stop() error {
	m.mu.Lock()
	pid := m.supervisorPID
	logPath := m.logPath
	rlog := m.rlog
	m.logPath = ""
	m.mu.Unlock()

	if err := m.store.DeleteFilesystem(pid); err != nil {
		return fmt.Errorf("delete filesystem row: %w", err)
	}

	if rlog != nil {
		_ = rlog.Close()
	}
	if logPath != "" {
		if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", logPath).Msg("failed to delete nfs server log file")
		}
	}

	return nil
}
