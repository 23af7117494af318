package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	monoerrors "github.com/monocore/monocore/pkg/errors"
	"github.com/monocore/monocore/pkg/log"
	"github.com/monocore/monocore/pkg/monitor"
	"github.com/monocore/monocore/pkg/ociregistry"
	"github.com/monocore/monocore/pkg/overlay"
	"github.com/monocore/monocore/pkg/storage"
	"github.com/monocore/monocore/pkg/supervisor"
	"github.com/monocore/monocore/pkg/types"
)

const (
	defaultLogRetention  = 7 * 24 * time.Hour
	defaultStartupTimeout = 30 * time.Second
	defaultGracePeriod    = 10 * time.Second
	pollInterval          = 100 * time.Millisecond
)

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogRetentionPolicy overrides the default duration rolled log
// files are kept before a stopped service's monitor purges them.
func WithLogRetentionPolicy(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// WithStartupTimeout overrides how long up() waits for a newly spawned
// service's sandbox row to appear before reporting it a failure. The
// wait ends as soon as the row exists; the row's status is not checked.
func WithStartupTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.startupTimeout = d }
}

// WithGracePeriod overrides how long a removal waits between SIGTERM
// and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) { o.gracePeriod = d }
}

// trackedService is everything the orchestrator remembers about one
// currently-running service, whether spawned this process or adopted
// from a prior one via Load.
type trackedService struct {
	name    string
	group   string
	svc     types.Service
	grp     types.Group
	pid     int
	sv      *supervisor.Supervisor // nil for adopted entries with no in-process handle
	doneCh  <-chan struct{}
}

// Orchestrator reconciles a desired types.Config against the set of
// supervisors it is currently tracking.
type Orchestrator struct {
	rootDir         string
	supervisorBin   string
	store           storage.Store
	ociClient       *ociregistry.Client
	retention       time.Duration
	startupTimeout  time.Duration
	gracePeriod     time.Duration
	logger          zerolog.Logger

	mu      sync.Mutex
	running map[string]*trackedService
}

// New builds an Orchestrator rooted at rootDir: <rootDir>/oci,
// <rootDir>/rootfs, <rootDir>/log, and <rootDir>/sandbox.db are
// created as needed. supervisorBinaryPath is the sibling binary spawned
// for every added service.
func New(rootDir, supervisorBinaryPath string, opts ...Option) (*Orchestrator, error) {
	for _, sub := range []string{"", "rootfs", "log"} {
		if err := os.MkdirAll(filepath.Join(rootDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", monoerrors.ErrIO, sub, err)
		}
	}

	ociClient, err := ociregistry.NewClientAt(filepath.Join(rootDir, "oci"))
	if err != nil {
		return nil, err
	}
	store, err := storage.NewBoltStore(rootDir)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		rootDir:        rootDir,
		supervisorBin:  supervisorBinaryPath,
		store:          store,
		ociClient:      ociClient,
		retention:      defaultLogRetention,
		startupTimeout: defaultStartupTimeout,
		gracePeriod:    defaultGracePeriod,
		logger:         log.WithComponent("orchestrator"),
		running:        make(map[string]*trackedService),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Load builds an Orchestrator the same way New does, then re-adopts
// every sandbox row whose supervisor_pid is still alive and running the
// configured supervisor binary. Rows that fail either check are
// deleted. A surviving row's desired-state snapshot is recovered from
// its own argv (it was spawned with --service-json=/--group-json=), so
// a subsequent up() with an unchanged config does not restart it.
func Load(rootDir, supervisorBinaryPath string, opts ...Option) (*Orchestrator, error) {
	o, err := New(rootDir, supervisorBinaryPath, opts...)
	if err != nil {
		return nil, err
	}

	rows, err := o.store.ListSandboxes()
	if err != nil {
		return nil, fmt.Errorf("%w: list sandboxes: %v", monoerrors.ErrDB, err)
	}

	for _, row := range rows {
		svc, grp, ok := o.adopt(row)
		if !ok {
			if err := o.store.DeleteSandbox(row.SupervisorPID); err != nil {
				o.logger.Warn().Err(err).Int("pid", row.SupervisorPID).Msg("failed to delete stale sandbox row")
			}
			continue
		}
		o.running[row.Name] = &trackedService{
			name:  row.Name,
			group: svc.Group,
			svc:   svc,
			grp:   grp,
			pid:   row.SupervisorPID,
		}
		o.logger.Info().Str("service", row.Name).Int("pid", row.SupervisorPID).Msg("adopted surviving supervisor")
	}

	return o, nil
}

// adopt reports whether row's supervisor_pid is alive and running
// o.supervisorBin, and if so decodes the service/group snapshot it was
// spawned with.
func (o *Orchestrator) adopt(row *types.SandboxRow) (types.Service, types.Group, bool) {
	if !processAlive(row.SupervisorPID) {
		return types.Service{}, types.Group{}, false
	}
	if !processExecutableMatches(row.SupervisorPID, o.supervisorBin) {
		return types.Service{}, types.Group{}, false
	}
	args, err := readProcCmdline(row.SupervisorPID)
	if err != nil {
		return types.Service{}, types.Group{}, false
	}
	svc, grp, ok := decodeSupervisorArgv(args)
	if !ok {
		return types.Service{}, types.Group{}, false
	}
	return svc, grp, true
}

// Report summarizes one up() or down() call: per-service outcomes, none
// of which abort the others.
type Report struct {
	Started []string
	Removed []string
	Failed  map[string]error
}

func newReport() *Report {
	return &Report{Failed: make(map[string]error)}
}

// Up reconciles the tracked set of running services to cfg: services no
// longer declared are removed, new ones are added, changed ones are
// replaced (removed then re-added), all in dependency order. A single
// service failing to start is recorded in the report and does not abort
// the rest.
func (o *Orchestrator) Up(ctx context.Context, cfg types.Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	currentNames := make(map[string]bool, len(o.running))
	for name := range o.running {
		currentNames[name] = true
	}
	o.mu.Unlock()

	desired := make(map[string]types.Service, len(cfg.Services))
	groups := make(map[string]types.Group, len(cfg.Groups))
	for _, s := range cfg.Services {
		desired[s.Name] = s
	}
	for _, g := range cfg.Groups {
		groups[g.Name] = g
	}

	var toRemove, toAddOrUpdate []string
	for name := range currentNames {
		if _, ok := desired[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	for _, s := range cfg.Services {
		o.mu.Lock()
		tracked, isCurrent := o.running[s.Name]
		o.mu.Unlock()
		switch {
		case !isCurrent:
			toAddOrUpdate = append(toAddOrUpdate, s.Name)
		case types.Changed(tracked.svc, s):
			toRemove = append(toRemove, s.Name)
			toAddOrUpdate = append(toAddOrUpdate, s.Name)
		}
	}

	spawnOrder, err := TopoSort(cfg.Services)
	if err != nil {
		return nil, err
	}
	addSet := toSet(toAddOrUpdate)
	orderedAdds := filterOrdered(spawnOrder, addSet)

	removeOrder, err := o.topoSortCurrent()
	if err != nil {
		removeOrder = toRemove // best effort: fall back to arbitrary order
	}
	removeSet := toSet(toRemove)
	orderedRemoves := filterOrdered(Reversed(removeOrder), removeSet)

	report := newReport()

	for _, name := range orderedRemoves {
		if err := o.removeService(ctx, name); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Removed = append(report.Removed, name)
	}

	for _, name := range orderedAdds {
		svc := desired[name]
		grp := groups[svc.Group]
		if err := o.addService(ctx, svc, grp); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Started = append(report.Started, name)
	}

	return report, nil
}

// topoSortCurrent orders the names the orchestrator is currently
// tracking by their recorded dependency snapshots, for reverse-ordering
// removals that span services untouched by the new config.
func (o *Orchestrator) topoSortCurrent() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	services := make([]types.Service, 0, len(o.running))
	for _, t := range o.running {
		services = append(services, t.svc)
	}
	return TopoSort(services)
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func filterOrdered(order []string, set map[string]bool) []string {
	out := make([]string, 0, len(set))
	seen := make(map[string]bool, len(set))
	for _, name := range order {
		if set[name] && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	// Anything in set but not present in order (e.g. a removal whose
	// service was never successfully tracked) is appended last.
	for name := range set {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

// Down stops services matching filter (nil stops everything the
// orchestrator is tracking), always attempting every target regardless
// of individual failures.
func (o *Orchestrator) Down(ctx context.Context, filter *DownFilter) (*Report, error) {
	o.mu.Lock()
	var targets []string
	for name, t := range o.running {
		if filter.matches(name, t.group) {
			targets = append(targets, name)
		}
	}
	o.mu.Unlock()

	order, err := o.topoSortCurrent()
	if err != nil {
		order = targets
	}
	ordered := filterOrdered(Reversed(order), toSet(targets))

	report := newReport()
	for _, name := range ordered {
		if err := o.removeService(ctx, name); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Removed = append(report.Removed, name)
	}
	return report, nil
}

// DownFilter restricts a Down call to services matching Name and/or
// Group; a zero-value filter (or nil) matches everything.
type DownFilter struct {
	Name  string
	Group string
}

func (f *DownFilter) matches(name, group string) bool {
	if f == nil {
		return true
	}
	if f.Name != "" && f.Name != name {
		return false
	}
	if f.Group != "" && f.Group != group {
		return false
	}
	return true
}

// Status returns a MicroVmState snapshot per service the orchestrator
// is currently tracking, reading the sandbox row for each.
func (o *Orchestrator) Status(ctx context.Context) ([]types.MicroVmState, error) {
	o.mu.Lock()
	names := make([]*trackedService, 0, len(o.running))
	for _, t := range o.running {
		names = append(names, t)
	}
	o.mu.Unlock()

	states := make([]types.MicroVmState, 0, len(names))
	for _, t := range names {
		row, err := o.store.GetSandboxByName(t.name)
		if err != nil {
			states = append(states, types.MicroVmState{
				Service: t.svc,
				Group:   t.grp,
				Status:  types.Failed(err),
			})
			continue
		}
		var metrics types.MicroVmMetrics
		if m, err := readProcMetrics(row.MicroVMPID); err == nil {
			metrics = m
		}
		states = append(states, types.MicroVmState{
			PID:        row.MicroVMPID,
			Service:    t.svc,
			Group:      t.grp,
			RootfsPath: row.RootPath,
			Status:     statusFromRow(row),
			Metrics:    metrics,
		})
	}
	return states, nil
}

func statusFromRow(row *types.SandboxRow) types.MicroVmStatus {
	switch strings.ToUpper(row.Status) {
	case "STARTED":
		return types.MicroVmStatus{Kind: types.StatusStarted}
	case "STARTING":
		return types.MicroVmStatus{Kind: types.StatusStarting}
	case "STOPPING":
		return types.MicroVmStatus{Kind: types.StatusStopping}
	default:
		return types.MicroVmStatus{Kind: types.StatusUnstarted}
	}
}

// Close releases the orchestrator's own handles (the sandbox DB) but
// leaves every tracked supervisor running; they are re-adoptable via
// Load.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// removeService SIGTERMs then SIGKILLs the tracked supervisor and
// blocks until its sandbox row is gone (or the grace period plus a
// short margin elapses).
func (o *Orchestrator) removeService(ctx context.Context, name string) error {
	o.mu.Lock()
	t, ok := o.running[name]
	o.mu.Unlock()
	if !ok {
		return monoerrors.NotFound(name)
	}

	if t.sv != nil {
		t.sv.RequestStop()
	} else {
		_ = syscall.Kill(t.pid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(o.gracePeriod + 5*time.Second)
	for time.Now().Before(deadline) {
		if _, err := o.store.GetSandboxByName(name); err != nil {
			break
		}
		if t.sv == nil && !processAlive(t.pid) {
			_ = o.store.DeleteSandbox(t.pid)
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if t.sv == nil && processAlive(t.pid) {
		_ = syscall.Kill(t.pid, syscall.SIGKILL)
	}

	o.mu.Lock()
	delete(o.running, name)
	o.mu.Unlock()
	return nil
}

// addService ensures the merged rootfs exists (pulling and merging it
// if not), allocates an IP within the service's group if it has one,
// spawns the supervisor binary, and waits until its sandbox row exists
// or the supervisor exits. The row's status is not checked: a row still
// marked STARTING counts as started.
func (o *Orchestrator) addService(ctx context.Context, svc types.Service, grp types.Group) error {
	refName := ociregistry.DeterministicRefName(svc.Image)
	destDir := filepath.Join(o.rootDir, "rootfs", "reference", refName)
	mergedDir := filepath.Join(destDir, "merged")

	if _, err := os.Stat(mergedDir); os.IsNotExist(err) {
		if _, err := o.ociClient.PullImage(ctx, svc.Image); err != nil {
			return fmt.Errorf("pull %s: %w", svc.Image, err)
		}
		merger := overlay.NewMerger(filepath.Join(o.rootDir, "oci"), destDir)
		if err := merger.Merge(ctx, refName); err != nil {
			return fmt.Errorf("merge %s: %w", svc.Image, err)
		}
	}

	var assignedIP, groupIP string
	if grp.CIDR != "" {
		gw, err := GroupGatewayIP(grp.CIDR)
		if err != nil {
			return err
		}
		ip, err := o.allocateIPLocked(grp)
		if err != nil {
			return err
		}
		assignedIP, groupIP = ip.String(), gw.String()
	}

	logDir := filepath.Join(o.rootDir, "log")
	dbPath := filepath.Join(o.rootDir, "sandbox.db")

	argv, err := buildSupervisorArgv(o.supervisorBin, svc, grp, mergedDir, logDir, dbPath)
	if err != nil {
		return err
	}

	mon := monitor.NewMicroVmMonitor(o.store, logDir, mergedDir, o.retention, false, o.logger)
	sv := supervisor.New(svc.Name, argv, o.gracePeriod, mon, o.logger)

	// The supervisor must outlive this call: up()'s caller context is
	// request-scoped, but an already-spawned supervisor is left running
	// across cancellation per the cancellation contract (adopted again
	// on the next load()).
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		if _, err := sv.Run(context.Background()); err != nil {
			o.logger.Error().Err(err).Str("service", svc.Name).Msg("supervisor run failed")
		}
	}()

	if err := o.waitForStart(svc.Name, doneCh); err != nil {
		sv.RequestStop()
		return err
	}

	row, err := o.store.GetSandboxByName(svc.Name)
	if err != nil {
		sv.RequestStop()
		return fmt.Errorf("%w: sandbox row for %s missing after start", monoerrors.ErrDB, svc.Name)
	}
	if assignedIP != "" {
		row.AssignedIP, row.GroupIP = assignedIP, groupIP
		if err := o.store.UpdateSandbox(row); err != nil {
			o.logger.Warn().Err(err).Str("service", svc.Name).Msg("failed to record assigned ip")
		}
	}

	o.mu.Lock()
	o.running[svc.Name] = &trackedService{
		name:   svc.Name,
		group:  svc.Group,
		svc:    svc,
		grp:    grp,
		pid:    row.SupervisorPID,
		sv:     sv,
		doneCh: doneCh,
	}
	o.mu.Unlock()
	return nil
}

// waitForStart blocks until svc's sandbox row exists (startup
// succeeded) or doneCh closes (the supervisor exited before reaching
// that point), bounded by o.startupTimeout.
func (o *Orchestrator) waitForStart(name string, doneCh <-chan struct{}) error {
	deadline := time.After(o.startupTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-doneCh:
			return fmt.Errorf("%w: supervisor for %s exited before starting", monoerrors.ErrVmmFailure, name)
		case <-deadline:
			return monoerrors.Timeout(fmt.Sprintf("start %s", name))
		case <-ticker.C:
			if _, err := o.store.GetSandboxByName(name); err == nil {
				return nil
			}
		}
	}
}

// allocateIPLocked scans every sandbox row already carrying a group_ip
// matching grp's gateway to build the used set, then picks the lowest
// free address.
func (o *Orchestrator) allocateIPLocked(grp types.Group) (net.IP, error) {
	rows, err := o.store.ListSandboxes()
	if err != nil {
		return nil, fmt.Errorf("%w: list sandboxes: %v", monoerrors.ErrDB, err)
	}
	gw, err := GroupGatewayIP(grp.CIDR)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool)
	for _, row := range rows {
		if row.AssignedIP != "" && row.GroupIP == gw.String() {
			used[row.AssignedIP] = true
		}
	}
	return AllocateServiceIP(grp.CIDR, used)
}

func buildSupervisorArgv(bin string, svc types.Service, grp types.Group, rootfsPath, logDir, dbPath string) ([]string, error) {
	svcJSON, err := json.Marshal(svc)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal service %s: %v", monoerrors.ErrIO, svc.Name, err)
	}
	grpJSON, err := json.Marshal(grp)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal group %s: %v", monoerrors.ErrIO, grp.Name, err)
	}
	return []string{
		bin, "run",
		"--service-json=" + base64.StdEncoding.EncodeToString(svcJSON),
		"--group-json=" + base64.StdEncoding.EncodeToString(grpJSON),
		"--rootfs=" + rootfsPath,
		"--log-dir=" + logDir,
		"--db=" + dbPath,
	}, nil
}

func decodeSupervisorArgv(args []string) (types.Service, types.Group, bool) {
	var svc types.Service
	var grp types.Group
	var gotSvc, gotGrp bool
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--service-json="):
			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(a, "--service-json="))
			if err != nil || json.Unmarshal(raw, &svc) != nil {
				return types.Service{}, types.Group{}, false
			}
			gotSvc = true
		case strings.HasPrefix(a, "--group-json="):
			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(a, "--group-json="))
			if err != nil || json.Unmarshal(raw, &grp) != nil {
				return types.Service{}, types.Group{}, false
			}
			gotGrp = true
		}
	}
	return svc, grp, gotSvc && gotGrp
}
