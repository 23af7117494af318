package monitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/monocore/monocore/pkg/ioplex"
	"github.com/monocore/monocore/pkg/storage"
	"github.com/monocore/monocore/pkg/types"
)

// MCRunLogPrefix is the filename prefix every microVM supervisor's log
// carries.
const MCRunLogPrefix = "mcrun"

// MicroVmMonitor tracks a single microVM's sandbox row and captures its
// I/O into a rotating log.
type MicroVmMonitor struct {
	store         storage.Store
	logDir        string
	rootPath      string
	retention     time.Duration
	forwardOutput bool
	logger        zerolog.Logger

	mu            sync.Mutex
	supervisorPID int
	rlog          *ioplex.RotatingLog
	logPath       string
}

// NewMicroVmMonitor returns a monitor that writes logs into logDir and
// records a sandbox row on Start. The microVM supervisor is a single OS
// process (libkrun hosts the guest in-process, it never forks), so the
// pid Start receives is recorded as both the sandbox row's supervisor
// and microVM pid.
func NewMicroVmMonitor(store storage.Store, logDir, rootPath string, retention time.Duration, forwardOutput bool, logger zerolog.Logger) *MicroVmMonitor {
	return &MicroVmMonitor{
		store:         store,
		logDir:        logDir,
		rootPath:      rootPath,
		retention:     retention,
		forwardOutput: forwardOutput,
		logger:        logger.With().Str("component", "microvm_monitor").Logger(),
	}
}

// Start opens the rotating log, begins plexing the child's I/O, and
// inserts the sandbox row with status STARTING.
func (m *MicroVmMonitor) Start(pid int, name string, childIO ioplex.ChildIO) error {
	ts := time.Now().Unix()
	logFile := logName(MCRunLogPrefix, name, true, int(ts), pid)
	logPath := filepath.Join(m.logDir, logFile)

	rlog, err := ioplex.NewRotatingLog(logPath, DefaultLogMaxSizeBytes, DefaultLogMaxBackups)
	if err != nil {
		return err
	}

	plexer := ioplex.NewPlexer(rlog, m.forwardOutput, m.logger)
	if err := plexer.Start(childIO); err != nil {
		rlog.Close()
		return err
	}

	m.mu.Lock()
	m.supervisorPID = pid
	m.rlog = rlog
	m.logPath = logPath
	m.mu.Unlock()

	if err := m.store.CreateSandbox(&types.SandboxRow{
		Name:          name,
		SupervisorPID: pid,
		MicroVMPID:    pid,
		Status:        "STARTING",
		RootPath:      m.rootPath,
	}); err != nil {
		return fmt.Errorf("insert sandbox row: %w", err)
	}

	return nil
}

// LogPath returns the path of the rotating log file created by Start,
// or the empty string before Start has run. Satisfies LogPathReporter
// so pkg/supervisor can report this path back to the spawned mcrun
// process over stdin: the microVM's own console output is written
// directly into this path by the VMM inside that process (see pkg/vm),
// not copied through this monitor's Plexer, which instead carries
// mcrun's own stdout/stderr.
func (m *MicroVmMonitor) LogPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logPath
}

// Stop removes the sandbox row and purges log files older than the
// retention duration. Purge failures are logged, not returned, per the
// monitor contract.
func (m *MicroVmMonitor) Stop() error {
	m.mu.Lock()
	pid := m.supervisorPID
	m.mu.Unlock()

	if err := m.store.DeleteSandbox(pid); err != nil {
		return fmt.Errorf("delete sandbox row: %w", err)
	}

	if err := ioplex.PurgeOlderThan(m.logDir, MCRunLogPrefix+"-", m.retention); err != nil {
		m.logger.Warn().Err(err).Msg("failed to purge old microvm logs")
	}

	m.mu.Lock()
	if m.rlog != nil {
		_ = m.rlog.Close()
	}
	m.logPath = ""
	m.mu.Unlock()

	return nil
}
