package monitor

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/monocore/monocore/pkg/ioplex"
	"github.com/monocore/monocore/pkg/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMicroVmMonitorStartInsertsSandboxRow(t *testing.T) {
	store := newTestStore(t)
	mon := NewMicroVmMonitor(store, t.TempDir(), "/rootfs/web", time.Hour, false, zerolog.Nop())

	stdoutR, stdoutW := io.Pipe()
	childIO := ioplex.ChildIO{Mode: ioplex.ModePiped, Stdout: stdoutR}

	require.NoError(t, mon.Start(222, "web", childIO))
	stdoutW.Close()

	row, err := store.GetSandbox(222)
	require.NoError(t, err)
	require.Equal(t, "web", row.Name)
	require.Equal(t, 222, row.MicroVMPID)
	require.Equal(t, "STARTING", row.Status)
	require.Equal(t, "/rootfs/web", row.RootPath)
}

func TestMicroVmMonitorStopDeletesSandboxRow(t *testing.T) {
	store := newTestStore(t)
	mon := NewMicroVmMonitor(store, t.TempDir(), "/rootfs/api", time.Hour, false, zerolog.Nop())

	stdoutR, stdoutW := io.Pipe()
	childIO := ioplex.ChildIO{Mode: ioplex.ModePiped, Stdout: stdoutR}
	require.NoError(t, mon.Start(444, "api", childIO))
	stdoutW.Close()

	require.NoError(t, mon.Stop())

	_, err := store.GetSandbox(444)
	require.Error(t, err)
}

func TestLogNamePlacesTimestampBeforePidForMicroVm(t *testing.T) {
	name := logName(MCRunLogPrefix, "web", true, 1000, 42)
	require.Equal(t, "mcrun-web-1000-42.log", name)
}
