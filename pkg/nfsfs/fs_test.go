package nfsfs

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monocore/monocore/pkg/ipld"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	store, err := ipld.NewBoltBlockStore(t.TempDir(), ipld.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestFSWriteReadRoundTrips(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Create("/greeting.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello monocore"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := fs.Open("/greeting.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello monocore", string(data))
	require.NoError(t, r.Close())
}

func TestFSMkdirAllAndReadDir(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("/a/b/c", 0755))

	f, err := fs.Create("/a/b/file.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := fs.ReadDir("/a/b")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	require.ElementsMatch(t, []string{"c", "file.txt"}, names)
}

func TestFSStatReportsDirAndFile(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("/dir", 0755))
	f, err := fs.Create("/dir/leaf")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dirInfo, err := fs.Stat("/dir")
	require.NoError(t, err)
	require.True(t, dirInfo.IsDir())

	fileInfo, err := fs.Stat("/dir/leaf")
	require.NoError(t, err)
	require.False(t, fileInfo.IsDir())
}

func TestFSRenameMovesEntry(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.Create("/old.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename("/old.txt", "/new.txt"))
	_, err = fs.Stat("/old.txt")
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat("/new.txt")
	require.NoError(t, err)
}

func TestFSRemoveRejectsNonEmptyDir(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.MkdirAll("/dir", 0755))
	f, err := fs.Create("/dir/leaf")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Error(t, fs.Remove("/dir"))
	require.NoError(t, fs.Remove("/dir/leaf"))
	require.NoError(t, fs.Remove("/dir"))
}

func TestFileSeekAndTruncate(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.Create("/f.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(5))
	pos, err := f.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)
	require.NoError(t, f.Close())

	r, err := fs.Open("/f.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "01234", string(data))
}
