package vm

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// PortMapping is one parsed "host:guest[/proto]" port pair.
type PortMapping struct {
	Host  int
	Guest int
	Proto string // "tcp" or "udp"
}

func ParsePortMapping(s string) (PortMapping, error) {
	proto := "tcp"
	rest := s
	if i := strings.LastIndex(s, "/"); i >= 0 {
		proto = s[i+1:]
		rest = s[:i]
		if proto != "tcp" && proto != "udp" {
			return PortMapping{}, monoerrors.InvalidConfig(fmt.Sprintf("port mapping %q: unsupported protocol %q", s, proto))
		}
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return PortMapping{}, monoerrors.InvalidConfig(fmt.Sprintf("port mapping %q: expected host:guest[/proto]", s))
	}
	host, err := strconv.Atoi(parts[0])
	if err != nil {
		return PortMapping{}, monoerrors.InvalidConfig(fmt.Sprintf("port mapping %q: invalid host port: %v", s, err))
	}
	guest, err := strconv.Atoi(parts[1])
	if err != nil {
		return PortMapping{}, monoerrors.InvalidConfig(fmt.Sprintf("port mapping %q: invalid guest port: %v", s, err))
	}
	return PortMapping{Host: host, Guest: guest, Proto: proto}, nil
}

func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d/%s", p.Host, p.Guest, p.Proto)
}

// Rlimit is one parsed "RLIMIT_NAME=soft:hard" resource limit.
type Rlimit struct {
	Name string
	Soft uint64
	Hard uint64
}

func ParseRlimit(s string) (Rlimit, error) {
	eq := strings.SplitN(s, "=", 2)
	if len(eq) != 2 || !strings.HasPrefix(eq[0], "RLIMIT_") {
		return Rlimit{}, monoerrors.InvalidConfig(fmt.Sprintf("rlimit %q: expected RLIMIT_NAME=soft:hard", s))
	}
	vals := strings.SplitN(eq[1], ":", 2)
	if len(vals) != 2 {
		return Rlimit{}, monoerrors.InvalidConfig(fmt.Sprintf("rlimit %q: expected soft:hard", s))
	}
	soft, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return Rlimit{}, monoerrors.InvalidConfig(fmt.Sprintf("rlimit %q: invalid soft limit: %v", s, err))
	}
	hard, err := strconv.ParseUint(vals[1], 10, 64)
	if err != nil {
		return Rlimit{}, monoerrors.InvalidConfig(fmt.Sprintf("rlimit %q: invalid hard limit: %v", s, err))
	}
	return Rlimit{Name: eq[0], Soft: soft, Hard: hard}, nil
}

func (r Rlimit) String() string {
	return fmt.Sprintf("%s=%d:%d", r.Name, r.Soft, r.Hard)
}

// PathMapping is one parsed "host_abs:guest_abs" virtio-fs mount.
type PathMapping struct {
	Host  string
	Guest string
}

func ParsePathMapping(s string) (PathMapping, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return PathMapping{}, monoerrors.PathValidation("mount %q: expected host_abs:guest_abs", s)
	}
	if !path.IsAbs(parts[0]) || !path.IsAbs(parts[1]) {
		return PathMapping{}, monoerrors.PathValidation("mount %q: both sides must be absolute", s)
	}
	return PathMapping{Host: NormalizePath(parts[0]), Guest: NormalizePath(parts[1])}, nil
}

// NormalizePath canonicalizes p to absolute POSIX form (path.Clean
// applied to an always-absolute path). It never fails: a relative input
// is simply cleaned as-is, callers that require an absolute result
// check path.IsAbs themselves (ParsePathMapping does).
func NormalizePath(p string) string {
	return path.Clean(p)
}

// PathsOverlap reports whether path1 and path2 are the same path or one
// is an ancestor of the other.
func PathsOverlap(path1, path2 string) bool {
	a := ensureTrailingSlash(path1)
	b := ensureTrailingSlash(path2)
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// NormalizeVolumePath resolves requestedPath against basePath, failing
// with PathValidation if the result escapes basePath. requestedPath may
// be absolute (verified under basePath) or relative (joined then
// re-normalized so a leading "../" can't escape).
func NormalizeVolumePath(basePath, requestedPath string) (string, error) {
	normBase := NormalizePath(basePath)
	if !path.IsAbs(normBase) {
		return "", monoerrors.PathValidation("base path %q must be absolute", basePath)
	}

	var candidate string
	if path.IsAbs(requestedPath) {
		candidate = NormalizePath(requestedPath)
	} else {
		candidate = NormalizePath(normBase + "/" + requestedPath)
	}

	if candidate != normBase && !strings.HasPrefix(candidate, ensureTrailingSlash(normBase)) {
		return "", monoerrors.PathValidation("path %q must be under base path %q", requestedPath, basePath)
	}
	return candidate, nil
}
