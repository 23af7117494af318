package overlay

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeLayerBlob(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if content == "" && name[len(name)-1] == '/' {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
			hdr.Size = 0
		} else {
			hdr.Typeflag = tar.TypeReg
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestExtractLayerWritesFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "layer.tar.gz")
	writeLayerBlob(t, blob, map[string]string{
		"etc/":          "",
		"etc/hostname":  "box\n",
		"bin/sh":        "#!/bin/sh\n",
	})

	dest := t.TempDir()
	require.NoError(t, extractLayer(blob, dest))

	data, err := os.ReadFile(filepath.Join(dest, "etc", "hostname"))
	require.NoError(t, err)
	require.Equal(t, "box\n", string(data))

	info, err := os.Stat(filepath.Join(dest, "bin", "sh"))
	require.NoError(t, err)
	require.False(t, info.IsDir())
}

func TestExtractLayerPreservesWhiteoutMarker(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "layer.tar.gz")
	writeLayerBlob(t, blob, map[string]string{
		"data/":             "",
		"data/.wh.removed":  "",
	})

	dest := t.TempDir()
	require.NoError(t, extractLayer(blob, dest))

	_, err := os.Stat(filepath.Join(dest, "data", ".wh.removed"))
	require.NoError(t, err, "whiteout marker is extracted as a literal file for later interpretation")
}

func TestIsWhiteoutAndTarget(t *testing.T) {
	require.True(t, isWhiteout("data/.wh.removed"))
	require.False(t, isWhiteout("data/.wh..wh..opq"))
	require.Equal(t, "data/removed", whiteoutTarget("data/.wh.removed"))
}
