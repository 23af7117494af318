package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePortMapping(t *testing.T) {
	p, err := ParsePortMapping("8080:80")
	require.NoError(t, err)
	require.Equal(t, PortMapping{Host: 8080, Guest: 80, Proto: "tcp"}, p)

	p, err = ParsePortMapping("53:53/udp")
	require.NoError(t, err)
	require.Equal(t, PortMapping{Host: 53, Guest: 53, Proto: "udp"}, p)

	_, err = ParsePortMapping("not-a-port")
	require.Error(t, err)

	_, err = ParsePortMapping("80:80/sctp")
	require.Error(t, err)
}

func TestParseRlimit(t *testing.T) {
	r, err := ParseRlimit("RLIMIT_NOFILE=1024:4096")
	require.NoError(t, err)
	require.Equal(t, Rlimit{Name: "RLIMIT_NOFILE", Soft: 1024, Hard: 4096}, r)
	require.Equal(t, "RLIMIT_NOFILE=1024:4096", r.String())

	_, err = ParseRlimit("NOFILE=1024:4096")
	require.Error(t, err)

	_, err = ParseRlimit("RLIMIT_NOFILE=not-a-number")
	require.Error(t, err)
}

func TestParsePathMapping(t *testing.T) {
	m, err := ParsePathMapping("/data:/mnt/data")
	require.NoError(t, err)
	require.Equal(t, PathMapping{Host: "/data", Guest: "/mnt/data"}, m)

	_, err = ParsePathMapping("relative:/mnt/data")
	require.Error(t, err)

	_, err = ParsePathMapping("/data:relative")
	require.Error(t, err)
}

func TestPathsOverlap(t *testing.T) {
	require.True(t, PathsOverlap("/data", "/data"))
	require.True(t, PathsOverlap("/data", "/data/app"))
	require.True(t, PathsOverlap("/data/app", "/data"))
	require.True(t, PathsOverlap("/data/app/logs", "/data/app"))

	require.False(t, PathsOverlap("/data", "/database"))
	require.False(t, PathsOverlap("/var/log", "/var/lib"))
	require.False(t, PathsOverlap("/data/app1", "/data/app2"))
	require.False(t, PathsOverlap("/data/app/logs", "/data/web/logs"))
}

func TestNormalizeVolumePathAbsolute(t *testing.T) {
	got, err := NormalizeVolumePath("/srv/app", "/srv/app/data")
	require.NoError(t, err)
	require.Equal(t, "/srv/app/data", got)

	_, err = NormalizeVolumePath("/srv/app", "/etc/passwd")
	require.Error(t, err)
}

func TestNormalizeVolumePathRelative(t *testing.T) {
	got, err := NormalizeVolumePath("/srv/app", "data/cache")
	require.NoError(t, err)
	require.Equal(t, "/srv/app/data/cache", got)

	_, err = NormalizeVolumePath("/srv/app", "../../etc/passwd")
	require.Error(t, err)
}

func TestNormalizeVolumePathSameAsBase(t *testing.T) {
	got, err := NormalizeVolumePath("/srv/app", "/srv/app")
	require.NoError(t, err)
	require.Equal(t, "/srv/app", got)
}
