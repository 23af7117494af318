package overlay

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// whiteoutPrefix marks a regular file as an AUFS/OCI whiteout: its
// presence in an upper layer means the same-named entry in any lower
// layer must not appear in the merged tree.
const whiteoutPrefix = ".wh."

// whiteoutOpaque marks a directory as opaque: none of that directory's
// contents from lower layers should appear in the merged tree, only
// entries from this layer and above.
const whiteoutOpaque = ".wh..wh..opq"

// extractLayer decompresses and unpacks a gzipped layer tarball into
// destDir, preserving the tar header's mode, mtime and ownership.
// Whiteout and opaque-directory markers are extracted as plain marker
// files/directories rather than interpreted here; mergeCopyOverlay and
// the kernel overlay mount path each interpret them in the way that
// applies to their own merge strategy.
func extractLayer(blobPath, destDir string) error {
	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("%w: open layer blob: %v", monoerrors.ErrIO, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: open layer gzip: %v", monoerrors.ErrIO, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read layer tar: %v", monoerrors.ErrIO, err)
		}
		if err := extractEntry(destDir, hdr, tr); err != nil {
			return err
		}
	}
}

func extractEntry(destDir string, hdr *tar.Header, r io.Reader) error {
	target := filepath.Join(destDir, filepath.Clean("/"+hdr.Name))
	mode := os.FileMode(hdr.Mode & 0o7777)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, mode); err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
	case tar.TypeReg, tar.TypeRegA:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
	case tar.TypeSymlink:
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		return nil // symlink ownership/mtime is cosmetic; skip lchown/lutimes
	case tar.TypeLink:
		linkTarget := filepath.Join(destDir, filepath.Clean("/"+hdr.Linkname))
		os.Remove(target)
		if err := os.Link(linkTarget, target); err != nil {
			return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
	default:
		// Device nodes, fifos etc. from the image layer aren't expected
		// in a microVM rootfs; skip rather than fail the whole merge.
		return nil
	}

	if err := os.Chown(target, hdr.Uid, hdr.Gid); err != nil && !os.IsPermission(err) {
		return fmt.Errorf("%w: chown %s: %v", monoerrors.ErrIO, target, err)
	}
	mtime := hdr.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	_ = os.Chtimes(target, mtime, mtime)
	return nil
}

func isWhiteout(name string) bool {
	return strings.HasPrefix(filepath.Base(name), whiteoutPrefix) && filepath.Base(name) != whiteoutOpaque
}

func whiteoutTarget(name string) string {
	return filepath.Join(filepath.Dir(name), strings.TrimPrefix(filepath.Base(name), whiteoutPrefix))
}
