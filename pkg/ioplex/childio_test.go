package ioplex

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestPlexer(t *testing.T, forward bool) (*Plexer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "child.log")
	rl, err := NewRotatingLog(path, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { rl.Close() })
	return NewPlexer(rl, forward, zerolog.Nop()), path
}

func TestCopyToLogWritesAllBytesToLog(t *testing.T) {
	p, _ := newTestPlexer(t, false)

	r := strings.NewReader("hello world")
	var echo bytes.Buffer
	p.copyToLog("stdout", r, &echo)

	data, err := os.ReadFile(p.rlog.path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Empty(t, echo.String(), "echo must stay empty when forwarding is disabled")
}

func TestCopyToLogForwardsWhenEnabled(t *testing.T) {
	p, _ := newTestPlexer(t, true)

	r := strings.NewReader("forwarded")
	var echo bytes.Buffer
	p.copyToLog("stderr", r, &echo)

	require.Equal(t, "forwarded", echo.String())
}
