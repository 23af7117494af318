package vm

import (
	"fmt"
	"os"

	monoerrors "github.com/monocore/monocore/pkg/errors"
	"github.com/monocore/monocore/pkg/types"
)

// LogLevel mirrors the VMM's own log level enum.
type LogLevel uint32

const (
	LogOff LogLevel = iota
	LogError
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

// MicroVMConfig is a Service's declared VM parameters parsed and
// validated into the structured form the VMM FFI wants. Building one
// never touches the VMM; only from_config applies it to a context.
type MicroVMConfig struct {
	LogLevel      LogLevel
	RootPath      string
	NumVCPUs      int
	RAMMiB        int
	VirtioFS      []PathMapping
	PortMap       []PortMapping
	Rlimits       []Rlimit
	WorkdirPath   string
	ExecPath      string
	Argv          []string
	Env           []string
	ConsoleOutput string
}

// NewMicroVMConfig validates svc's wire-format fields and the rootfs
// path that D produced for it, returning a MicroVMConfig ready for
// from_config. No side effects occur before every check below passes.
func NewMicroVMConfig(svc types.Service, rootfsPath, consoleOutput string) (*MicroVMConfig, error) {
	info, err := os.Stat(rootfsPath)
	if err != nil || !info.IsDir() {
		return nil, monoerrors.PathValidation("rootfs path %q does not exist", rootfsPath)
	}

	vcpus := svc.EffectiveVCPUs()
	if vcpus < 1 {
		return nil, monoerrors.InvalidConfig(fmt.Sprintf("service %q: vcpus must be >= 1", svc.Name))
	}
	ramMiB := svc.RAMMiB
	if ramMiB == 0 {
		ramMiB = 1
	}
	if ramMiB < 1 {
		return nil, monoerrors.InvalidConfig(fmt.Sprintf("service %q: ram must be >= 1 MiB", svc.Name))
	}

	ports := make([]PortMapping, 0, len(svc.Ports))
	for _, p := range svc.Ports {
		parsed, err := ParsePortMapping(p)
		if err != nil {
			return nil, err
		}
		ports = append(ports, parsed)
	}

	for _, e := range svc.Env {
		if _, err := ParseEnvPair(e); err != nil {
			return nil, err
		}
	}

	rlimits := make([]Rlimit, 0, len(svc.RLimits))
	for _, r := range svc.RLimits {
		parsed, err := ParseRlimit(r)
		if err != nil {
			return nil, err
		}
		rlimits = append(rlimits, parsed)
	}

	mounts := make([]PathMapping, 0, len(svc.Mounts))
	for _, m := range svc.Mounts {
		parsed, err := ParsePathMapping(m)
		if err != nil {
			return nil, err
		}
		normGuest, err := NormalizeVolumePath("/", parsed.Guest)
		if err != nil {
			return nil, err
		}
		parsed.Guest = normGuest
		mounts = append(mounts, parsed)
	}

	return &MicroVMConfig{
		LogLevel:      LogInfo,
		RootPath:      rootfsPath,
		NumVCPUs:      vcpus,
		RAMMiB:        ramMiB,
		VirtioFS:      mounts,
		PortMap:       ports,
		Rlimits:       rlimits,
		WorkdirPath:   "/",
		ExecPath:      svc.Command,
		Argv:          svc.Args,
		Env:           svc.Env,
		ConsoleOutput: consoleOutput,
	}, nil
}

// ParseEnvPair validates s against the data model's KEY=VALUE rule. It
// exists alongside the Rlimit/Port/Path parsers in this package even
// though pkg/types.Config.Validate already checks env bindings, because
// a service may be built via NewMicroVMConfig without ever going
// through Config.Validate (e.g. a supervisor invoked directly).
func ParseEnvPair(s string) (string, error) {
	i := -1
	for idx, r := range s {
		if r == '=' {
			i = idx
			break
		}
	}
	if i <= 0 {
		return "", monoerrors.InvalidConfig(fmt.Sprintf("env binding %q: expected KEY=VALUE", s))
	}
	key := s[:i]
	if !envKeyValid(key) {
		return "", monoerrors.InvalidConfig(fmt.Sprintf("env binding %q: invalid key %q", s, key))
	}
	return s, nil
}

func envKeyValid(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}
