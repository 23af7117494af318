package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/monocore/monocore/pkg/ioplex"
	"github.com/monocore/monocore/pkg/monitor"
)

// State is a position in the Spawning -> Running -> Exiting -> Exited
// lifecycle a Supervisor drives its child through.
type State int

const (
	StateSpawning State = iota
	StateRunning
	StateExiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "Spawning"
	case StateRunning:
		return "Running"
	case StateExiting:
		return "Exiting"
	case StateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Supervisor spawns Argv as a named child process, installs Monitor
// around its pid and I/O, and waits for it to exit.
type Supervisor struct {
	Name        string
	Argv        []string
	GracePeriod time.Duration
	Monitor     monitor.ProcessMonitor
	Logger      zerolog.Logger

	// OnUnexpectedExit, if set, is called once with a descriptive error
	// whenever the child exits non-zero and the exit wasn't requested
	// via RequestStop or an OS signal.
	OnUnexpectedExit func(error)

	mu       sync.Mutex
	state    State
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a Supervisor ready to Run.
func New(name string, argv []string, gracePeriod time.Duration, mon monitor.ProcessMonitor, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		Name:        name,
		Argv:        argv,
		GracePeriod: gracePeriod,
		Monitor:     mon,
		Logger:      logger.With().Str("component", "supervisor").Str("child", name).Logger(),
		stopCh:      make(chan struct{}),
	}
}

// State reports the supervisor's current lifecycle position.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RequestStop asks Run to begin an ordered shutdown: SIGTERM to the
// child, wait up to GracePeriod, then SIGKILL. Safe to call more than
// once.
func (s *Supervisor) RequestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run spawns the child and blocks until it exits, whether on its own,
// via RequestStop, or via SIGTERM/SIGINT delivered to this process. It
// returns the exit code the caller should mirror as its own.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	s.setState(StateSpawning)

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("attach stderr: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return -1, fmt.Errorf("attach stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start child: %w", err)
	}

	// Stdin is deliberately left off childIO: the plexer's generic stdin
	// forwarding would race with the line reportLogPath writes below onto
	// the same pipe. Neither mcrun nor mfsrun take interactive input.
	childIO := ioplex.ChildIO{Mode: ioplex.ModePiped, Stdout: stdout, Stderr: stderr}
	if err := s.Monitor.Start(cmd.Process.Pid, s.Name, childIO); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return -1, fmt.Errorf("install monitor: %w", err)
	}
	s.reportLogPath(stdin)
	s.setState(StateRunning)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	stopRequested := false
	select {
	case <-waitCh:
	case <-sigCh:
		stopRequested = true
	case <-s.stopCh:
		stopRequested = true
	}

	if stopRequested {
		s.setState(StateExiting)
		s.Logger.Info().Msg("forwarding shutdown to child")
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitCh:
		case <-time.After(s.GracePeriod):
			s.Logger.Warn().Msg("grace period elapsed, sending SIGKILL")
			_ = cmd.Process.Kill()
			<-waitCh
		}
	}

	s.setState(StateExiting)
	exitCode := cmd.ProcessState.ExitCode()

	if err := s.Monitor.Stop(); err != nil {
		s.Logger.Warn().Err(err).Msg("monitor stop failed")
	}

	if !stopRequested && exitCode != 0 && s.OnUnexpectedExit != nil {
		s.OnUnexpectedExit(fmt.Errorf("child %q exited with code %d", s.Name, exitCode))
	}

	s.setState(StateExited)
	return exitCode, nil
}

// reportLogPath hands a Monitor-computed console log path to the child
// over stdin, the pipe this process already owns from cmd.StdinPipe().
// This lets the child learn where to write its own console output
// without re-deriving the path or opening the shared sandbox database a
// second time. Monitors that don't compute such a path (LogPathReporter
// not implemented, or LogPath empty before Start completes) leave stdin
// untouched and closed, which the child must tolerate.
func (s *Supervisor) reportLogPath(stdin io.WriteCloser) {
	defer stdin.Close()

	reporter, ok := s.Monitor.(monitor.LogPathReporter)
	if !ok {
		return
	}
	path := reporter.LogPath()
	if path == "" {
		return
	}
	if _, err := io.WriteString(stdin, path+"\n"); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to report console log path to child")
	}
}
