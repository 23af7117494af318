package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	monoerrors "github.com/monocore/monocore/pkg/errors"
	"github.com/monocore/monocore/pkg/log"
)

// Merger composes one OCI image's layers, referenced by name out of
// ociDir/manifests, into a rootfs tree under destDir/merged. A Merger
// instance owns a single destDir; two Mergers targeting distinct
// destinations share no state and may run concurrently.
type Merger struct {
	ociDir  string
	destDir string
	lock    *flock.Flock
	log     zerolog.Logger
}

func NewMerger(ociDir, destDir string) *Merger {
	return &Merger{
		ociDir:  ociDir,
		destDir: destDir,
		lock:    flock.New(filepath.Join(destDir, ".merge.lock")),
		log:     log.WithComponent("overlay"),
	}
}

func (m *Merger) layersDir() string  { return filepath.Join(m.destDir, "layers") }
func (m *Merger) upperDir() string   { return filepath.Join(m.destDir, "upper") }
func (m *Merger) workDir() string    { return filepath.Join(m.destDir, "work") }
func (m *Merger) mergedDir() string  { return filepath.Join(m.destDir, "merged") }

// Merge extracts refName's layers (skipping any already extracted) and
// composes them into destDir/merged. It returns once the merged tree is
// ready to use; on any error the partial work/upper/merged state is
// cleaned before returning.
func (m *Merger) Merge(ctx context.Context, refName string) error {
	if err := os.MkdirAll(m.destDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("%w: lock %s: %v", monoerrors.ErrIO, m.destDir, err)
	}
	defer m.lock.Unlock()

	layerDirs, err := m.extractLayers(refName)
	if err != nil {
		m.cleanup()
		return err
	}

	if err := os.MkdirAll(m.upperDir(), 0o755); err != nil {
		m.cleanup()
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	if err := os.MkdirAll(m.workDir(), 0o755); err != nil {
		m.cleanup()
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	if err := os.MkdirAll(m.mergedDir(), 0o755); err != nil {
		m.cleanup()
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}

	if err := m.mountKernelOverlay(layerDirs); err != nil {
		m.log.Warn().Err(err).Msg("kernel overlay mount unavailable, falling back to copy-overlay")
		if err := mergeCopyOverlay(layerDirs, m.mergedDir()); err != nil {
			m.cleanup()
			return err
		}
	}

	return nil
}

// extractLayers reads refName's manifest and extracts every layer not
// already present under layersDir, returning the ordered list of layer
// directories (lower to upper).
func (m *Merger) extractLayers(refName string) ([]string, error) {
	manifestPath := filepath.Join(m.ociDir, "manifests", refName+".json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, monoerrors.NotFound(fmt.Sprintf("manifest %s", refName))
	}
	var manifest v1.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %v", monoerrors.ErrIO, refName, err)
	}

	var layerDirs []string
	for i, layer := range manifest.Layers {
		layerDir := filepath.Join(m.layersDir(), strconv.Itoa(i))
		if entries, err := os.ReadDir(layerDir); err == nil && len(entries) > 0 {
			layerDirs = append(layerDirs, layerDir)
			continue
		}
		if err := os.MkdirAll(layerDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		blobPath := filepath.Join(m.ociDir, "blobs", "sha256", layer.Digest.Hex)
		if err := extractLayer(blobPath, layerDir); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layerDirs = append(layerDirs, layerDir)
	}
	return layerDirs, nil
}

// mountKernelOverlay mounts an overlay filesystem with layerDirs as the
// read-only lower stack (topmost layer first, per overlayfs's lowerdir
// priority order) and destDir/upper as the writable top.
func (m *Merger) mountKernelOverlay(layerDirs []string) error {
	reversed := make([]string, len(layerDirs))
	for i, d := range layerDirs {
		reversed[len(layerDirs)-1-i] = d
	}
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(reversed, ":"), m.upperDir(), m.workDir())

	if err := unix.Mount("overlay", m.mergedDir(), "overlay", 0, opts); err != nil {
		return fmt.Errorf("%w: mount overlay: %v", monoerrors.ErrIO, err)
	}
	return nil
}

// Unmount tears down the union and removes destDir's scratch
// directories. destDir/merged must not exist after a successful call.
func (m *Merger) Unmount(ctx context.Context) error {
	if err := m.lock.Lock(); err != nil {
		return fmt.Errorf("%w: lock %s: %v", monoerrors.ErrIO, m.destDir, err)
	}
	defer m.lock.Unlock()

	// Ignore EINVAL: the copy-overlay fallback never mounted anything.
	_ = unix.Unmount(m.mergedDir(), unix.MNT_DETACH)
	m.cleanup()
	return nil
}

func (m *Merger) cleanup() {
	for _, d := range []string{m.workDir(), m.upperDir(), m.mergedDir()} {
		os.RemoveAll(d)
	}
}

// mergeCopyOverlay applies layerDirs (lower to upper) directly into
// mergedDir by copying files, honoring whiteout markers and opaque
// directories the same way a kernel overlay mount would.
func mergeCopyOverlay(layerDirs []string, mergedDir string) error {
	for _, layerDir := range layerDirs {
		err := filepath.WalkDir(layerDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(layerDir, path)
			if err != nil || rel == "." {
				return err
			}
			dst := filepath.Join(mergedDir, rel)

			if filepath.Base(rel) == whiteoutOpaque {
				parent := filepath.Dir(dst)
				if err := os.RemoveAll(parent); err != nil {
					return err
				}
				info, err := os.Stat(filepath.Dir(path))
				mode := os.FileMode(0o755)
				if err == nil {
					mode = info.Mode()
				}
				return os.MkdirAll(parent, mode)
			}
			if isWhiteout(rel) {
				return os.RemoveAll(filepath.Join(mergedDir, whiteoutTarget(rel)))
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyTreeEntry(path, dst, info)
		})
		if err != nil {
			return fmt.Errorf("%w: copy-overlay merge: %v", monoerrors.ErrIO, err)
		}
	}
	return nil
}

func copyTreeEntry(src, dst string, info fs.FileInfo) error {
	switch {
	case info.IsDir():
		return os.MkdirAll(dst, info.Mode())
	case info.Mode()&os.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(link, dst)
	default:
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		return nil
	}
}
