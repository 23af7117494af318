package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/monocore/monocore/pkg/types"
)

// clockTicksPerSecond is USER_HZ, which is 100 on every Linux platform
// this module targets; the kernel does not expose it outside of
// sysconf(_SC_CLK_TCK), which requires cgo to call.
const clockTicksPerSecond = 100

// processAlive reports whether pid names a live process, using the
// kill(pid, 0) probe: no signal is sent, only existence and permission
// are checked.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// processExecutableMatches reports whether pid's /proc/<pid>/exe
// symlink resolves to binaryPath.
func processExecutableMatches(pid int, binaryPath string) bool {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return false
	}
	return exe == binaryPath
}

// readProcCmdline returns pid's argv by splitting /proc/<pid>/cmdline on
// its NUL separators.
func readProcCmdline(pid int) ([]string, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil, nil
	}
	return strings.Split(string(raw), "\x00"), nil
}

// readProcMetrics samples pid's average CPU usage (fraction of one core
// consumed since the process started) and current resident memory from
// /proc/<pid>/stat and /proc/<pid>/status.
func readProcMetrics(pid int) (types.MicroVmMetrics, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return types.MicroVmMetrics{}, err
	}
	// comm may itself contain spaces and parentheses; only the fields
	// after the last ')' are positionally reliable.
	closeIdx := bytes.LastIndexByte(stat, ')')
	if closeIdx < 0 {
		return types.MicroVmMetrics{}, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(stat[closeIdx+1:]))
	// fields[0] is state (field 3 overall); utime/stime are fields
	// 14/15 overall, i.e. fields[11]/fields[12] here; starttime is
	// field 22 overall, i.e. fields[19].
	if len(fields) < 20 {
		return types.MicroVmMetrics{}, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	utime, _ := strconv.ParseFloat(fields[11], 64)
	stime, _ := strconv.ParseFloat(fields[12], 64)
	startTicks, _ := strconv.ParseFloat(fields[19], 64)

	uptime, err := readSystemUptimeSeconds()
	if err != nil {
		return types.MicroVmMetrics{}, err
	}

	processSeconds := (utime + stime) / clockTicksPerSecond
	ageSeconds := uptime - startTicks/clockTicksPerSecond
	var cpuUsage float64
	if ageSeconds > 0 {
		cpuUsage = processSeconds / ageSeconds
	}

	rss, err := readRSSBytes(pid)
	if err != nil {
		return types.MicroVmMetrics{}, err
	}

	return types.MicroVmMetrics{CPUUsage: cpuUsage, MemoryUsage: rss}, nil
}

func readSystemUptimeSeconds() (float64, error) {
	raw, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed /proc/uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func readRSSBytes(pid int) (uint64, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, nil
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, nil
}
