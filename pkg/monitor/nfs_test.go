package monitor

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monocore/monocore/pkg/ioplex"
)

func TestNfsServerMonitorStartInsertsFilesystemRow(t *testing.T) {
	store := newTestStore(t)
	mon := NewNfsServerMonitor(store, "/mnt/data", t.TempDir(), zerolog.Nop())

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	childIO := ioplex.ChildIO{Mode: ioplex.ModePiped, Stdout: stdoutR, Stderr: stderrR}

	require.NoError(t, mon.Start(20, "data", childIO))
	stdoutW.Close()
	stderrW.Close()

	row, err := store.GetFilesystem(20)
	require.NoError(t, err)
	require.Equal(t, "data", row.Name)
	require.Equal(t, "/mnt/data", row.MountDir)
	require.Equal(t, 20, row.NFSServerPID)
}

func TestNfsServerMonitorStopDeletesRowAndLogFile(t *testing.T) {
	store := newTestStore(t)
	logDir := t.TempDir()
	mon := NewNfsServerMonitor(store, "/mnt/other", logDir, zerolog.Nop())

	stdoutR, stdoutW := io.Pipe()
	childIO := ioplex.ChildIO{Mode: ioplex.ModePiped, Stdout: stdoutR}
	require.NoError(t, mon.Start(21, "other", childIO))
	stdoutW.Close()

	logPath := mon.logPath
	require.NotEmpty(t, logPath)
	_, err := os.Stat(logPath)
	require.NoError(t, err)

	require.NoError(t, mon.Stop())

	_, err = store.GetFilesystem(21)
	require.Error(t, err)

	_, err = os.Stat(logPath)
	require.True(t, os.IsNotExist(err))
}

func TestLogNamePlacesPidBeforeTimestampForNfs(t *testing.T) {
	name := logName(MFSRunLogPrefix, "data", false, 1000, 42)
	require.Equal(t, "mfsrun-data-42-1000.log", name)
}
