package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCommandDeclaresExpectedFlags(t *testing.T) {
	for _, name := range []string{"name", "mount-dir", "listen", "store-dir", "log-dir", "db"} {
		f := runCmd.Flags().Lookup(name)
		require.NotNil(t, f, "flag %s should be registered", name)
	}
	listen := runCmd.Flags().Lookup("listen")
	require.Equal(t, "127.0.0.1:2049", listen.DefValue)
}
