package ioplex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotatingLogWritesAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.log")
	rl, err := NewRotatingLog(path, 0, 0)
	require.NoError(t, err)
	defer rl.Close()

	_, err = rl.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = rl.Write([]byte("second\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingLogRotatesOnSizeThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.log")
	rl, err := NewRotatingLog(path, 10, 2)
	require.NoError(t, err)
	defer rl.Close()

	_, err = rl.Write([]byte("0123456789"))
	require.NoError(t, err)

	_, err = rl.Write([]byte("abcde"))
	require.NoError(t, err)

	rolled, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(rolled))

	active, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcde", string(active))
}

func TestRotatingLogKeepsOnlyMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.log")
	rl, err := NewRotatingLog(path, 5, 1)
	require.NoError(t, err)
	defer rl.Close()

	_, err = rl.Write([]byte("aaaaa"))
	require.NoError(t, err)
	_, err = rl.Write([]byte("bbbbb"))
	require.NoError(t, err)
	_, err = rl.Write([]byte("ccccc"))
	require.NoError(t, err)

	rolled, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "bbbbb", string(rolled))

	_, err = os.Stat(path + ".2")
	require.True(t, os.IsNotExist(err))
}

func TestPurgeOlderThanDeletesStaleManagedLogsOnly(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "mcrun-web-1-123.log")
	fresh := filepath.Join(dir, "mcrun-web-2-456.log")
	unrelated := filepath.Join(dir, "notes.txt")

	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	require.NoError(t, PurgeOlderThan(dir, "mcrun-", time.Hour))

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(fresh)
	require.NoError(t, err)

	_, err = os.Stat(unrelated)
	require.NoError(t, err, "non-managed files must be left alone regardless of age")
}

func TestIsManagedLogNameMatchesRolledGenerations(t *testing.T) {
	require.True(t, isManagedLogName("mcrun-web-1-1.log", "mcrun-"))
	require.True(t, isManagedLogName("mcrun-web-1-1.log.1", "mcrun-"))
	require.False(t, isManagedLogName("other-web-1-1.log", "mcrun-"))
	require.False(t, isManagedLogName("mcrun-web-1-1.txt", "mcrun-"))
}
