package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/monocore/monocore/pkg/ociregistry"
	"github.com/monocore/monocore/pkg/types"
)

// fakeSupervisorBin writes a shell script that execs into a long sleep,
// ignoring whatever argv the orchestrator passes it. Real supervisor
// semantics (parsing --service-json etc.) live in cmd/mcrun; this
// exercises only the orchestrator's own spawn/monitor/teardown wiring.
func fakeSupervisorBin(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-supervisor.sh")
	script := "#!/bin/sh\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

// preMergedRootfs creates an already-merged rootfs directory for image,
// so addService skips pulling and merging entirely.
func preMergedRootfs(t *testing.T, rootDir, image string) {
	t.Helper()
	refName := ociregistry.DeterministicRefName(image)
	mergedDir := filepath.Join(rootDir, "rootfs", "reference", refName, "merged")
	require.NoError(t, os.MkdirAll(mergedDir, 0755))
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, string, string) {
	t.Helper()
	rootDir := t.TempDir()
	bin := fakeSupervisorBin(t)
	opts = append([]Option{
		WithStartupTimeout(5 * time.Second),
		WithGracePeriod(2 * time.Second),
	}, opts...)
	o, err := New(rootDir, bin, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o, rootDir, bin
}

func TestOrchestratorUpStatusDownLifecycle(t *testing.T) {
	o, rootDir, _ := newTestOrchestrator(t)

	cfg := types.Config{
		Groups: []types.Group{{Name: "main"}},
		Services: []types.Service{
			{Name: "sleep", Image: "library/busybox:latest", Group: "main", Command: "/bin/sleep", Args: []string{"3600"}},
			{Name: "tail", Image: "library/busybox:latest", Group: "main", Command: "/bin/tail", DependsOn: []string{"sleep"}},
		},
	}
	preMergedRootfs(t, rootDir, cfg.Services[0].Image)

	report, err := o.Up(context.Background(), cfg)
	require.NoError(t, err)
	require.Empty(t, report.Failed)
	require.ElementsMatch(t, []string{"sleep", "tail"}, report.Started)

	states, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)

	downReport, err := o.Down(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, downReport.Failed)
	require.ElementsMatch(t, []string{"sleep", "tail"}, downReport.Removed)

	remaining, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestOrchestratorUpIsIdempotentWhenNothingChanged(t *testing.T) {
	o, rootDir, _ := newTestOrchestrator(t)
	cfg := types.Config{
		Services: []types.Service{{Name: "sleep", Image: "library/busybox:latest", Command: "/bin/sleep"}},
	}
	preMergedRootfs(t, rootDir, cfg.Services[0].Image)

	_, err := o.Up(context.Background(), cfg)
	require.NoError(t, err)

	before, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, before, 1)
	firstPID := before[0].PID

	_, err = o.Up(context.Background(), cfg)
	require.NoError(t, err)

	after, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, firstPID, after[0].PID, "unchanged service must not be restarted")

	_, _ = o.Down(context.Background(), nil)
}

func TestOrchestratorUpReplacesChangedService(t *testing.T) {
	o, rootDir, _ := newTestOrchestrator(t)
	image := "library/busybox:latest"
	preMergedRootfs(t, rootDir, image)

	cfg := types.Config{Services: []types.Service{{Name: "web", Image: image, Command: "/bin/sleep", Args: []string{"1"}}}}
	_, err := o.Up(context.Background(), cfg)
	require.NoError(t, err)
	before, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, before, 1)

	cfg.Services[0].Args = []string{"2"}
	_, err = o.Up(context.Background(), cfg)
	require.NoError(t, err)
	after, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.NotEqual(t, before[0].PID, after[0].PID, "changed service must be replaced, not reconfigured in place")

	_, _ = o.Down(context.Background(), nil)
}

func TestOrchestratorDownFiltersByGroup(t *testing.T) {
	o, rootDir, _ := newTestOrchestrator(t)
	cfg := types.Config{
		Groups: []types.Group{{Name: "a"}, {Name: "b"}},
		Services: []types.Service{
			{Name: "in-a", Image: "library/busybox:latest", Group: "a", Command: "/bin/sleep"},
			{Name: "in-b", Image: "library/busybox:latest", Group: "b", Command: "/bin/sleep"},
		},
	}
	preMergedRootfs(t, rootDir, cfg.Services[0].Image)

	_, err := o.Up(context.Background(), cfg)
	require.NoError(t, err)

	report, err := o.Down(context.Background(), &DownFilter{Group: "a"})
	require.NoError(t, err)
	require.Equal(t, []string{"in-a"}, report.Removed)

	remaining, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "in-b", remaining[0].Service.Name)

	_, _ = o.Down(context.Background(), nil)
}
