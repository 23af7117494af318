package ociregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/rs/zerolog"

	monoerrors "github.com/monocore/monocore/pkg/errors"
	"github.com/monocore/monocore/pkg/homedir"
	"github.com/monocore/monocore/pkg/log"
)

// Layer is one verified, on-disk layer blob, ordered base-to-top as
// returned by the registry's manifest.
type Layer struct {
	Digest string // "sha256:<hex>"
	Path   string // path to the gzipped tarball blob
}

// PulledImage is the result of a successful pull_image: a deterministic
// reference name and its ordered layer blobs, ready for the overlay
// merger to extract.
type PulledImage struct {
	RefName      string
	ManifestPath string
	Layers       []Layer
}

// Client pulls images into a fixed on-disk directory layout:
// <oci_dir>/manifests/<ref_name>.json and <oci_dir>/blobs/sha256/<hex>.
type Client struct {
	ociDir string
	log    zerolog.Logger
}

// NewClient builds a Client rooted at <MONOCORE_HOME>/oci.
func NewClient() (*Client, error) {
	dir, err := homedir.OCIDir()
	if err != nil {
		return nil, err
	}
	return NewClientAt(dir)
}

// NewClientAt builds a Client rooted at an explicit OCI directory,
// for callers (the orchestrator) that manage their own root directory
// instead of relying on the MONOCORE_HOME default.
func NewClientAt(ociDir string) (*Client, error) {
	for _, sub := range []string{"manifests", filepath.Join("blobs", "sha256")} {
		if err := os.MkdirAll(filepath.Join(ociDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", monoerrors.ErrIO, sub, err)
		}
	}
	return &Client{ociDir: ociDir, log: log.WithComponent("ociregistry")}, nil
}

// PullImage resolves ref against OCI_REGISTRY_DOMAIN (default tag
// "latest"), fetches the manifest, and downloads every layer blob not
// already present under its expected digest. A layer whose downloaded
// bytes don't match its declared digest is discarded, never persisted,
// and the pull fails.
func (c *Client) PullImage(ctx context.Context, ref string) (*PulledImage, error) {
	refName := DeterministicRefName(ref)
	c.log.Info().Str("ref", ref).Str("ref_name", refName).Msg("pulling image")

	parsed, err := name.ParseReference(ref,
		name.WithDefaultRegistry(homedir.RegistryDomain()),
		name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse reference %q: %v", monoerrors.ErrOCINetwork, ref, err)
	}

	img, err := remote.Image(parsed, remote.WithContext(ctx), remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return nil, c.classifyPullErr(err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch manifest for %q: %v", monoerrors.ErrOCINetwork, ref, err)
	}

	manifestPath, err := c.persistManifest(refName, manifest)
	if err != nil {
		return nil, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("%w: list layers for %q: %v", monoerrors.ErrOCINetwork, ref, err)
	}

	pulled := &PulledImage{RefName: refName, ManifestPath: manifestPath}
	for i, layer := range layers {
		l, err := c.fetchLayer(ctx, layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d/%d: %w", i+1, len(layers), err)
		}
		pulled.Layers = append(pulled.Layers, *l)
	}

	c.log.Info().Str("ref", ref).Int("layers", len(pulled.Layers)).Msg("pull complete")
	return pulled, nil
}

// classifyPullErr maps a go-containerregistry transport error onto the
// two network failure kinds the design distinguishes: authentication
// required vs a generic network error. Bearer-token exchange and the
// 401 WWW-Authenticate challenge/retry are handled inside remote.Image
// itself; this only classifies the error that survives that retry.
func (c *Client) classifyPullErr(err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		for _, code := range []int{401, 403} {
			if terr.StatusCode == code {
				return fmt.Errorf("%w: %v", monoerrors.ErrOCIAuth, err)
			}
		}
	}
	return fmt.Errorf("%w: %v", monoerrors.ErrOCINetwork, err)
}

func (c *Client) persistManifest(refName string, manifest *v1.Manifest) (string, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal manifest: %v", monoerrors.ErrIO, err)
	}
	path := filepath.Join(c.ociDir, "manifests", refName+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// fetchLayer downloads layer's compressed bytes to a temp file, verifies
// the digest as it streams, and only then renames into place. Existing
// blobs under the expected digest are skipped entirely (idempotent
// pull).
func (c *Client) fetchLayer(ctx context.Context, layer v1.Layer) (*Layer, error) {
	hash, err := layer.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: read layer digest: %v", monoerrors.ErrOCINetwork, err)
	}

	blobPath := filepath.Join(c.ociDir, "blobs", "sha256", hash.Hex)
	if _, err := os.Stat(blobPath); err == nil {
		return &Layer{Digest: hash.String(), Path: blobPath}, nil
	}

	rc, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("%w: open layer %s: %v", monoerrors.ErrOCINetwork, hash, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(blobPath), "blob-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	sum := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(rc, sum)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: download layer %s: %v", monoerrors.ErrOCINetwork, hash, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}

	got := hex.EncodeToString(sum.Sum(nil))
	if got != hash.Hex {
		return nil, fmt.Errorf("%w: layer %s: got sha256:%s", monoerrors.ErrOCIDigestMismatch, hash, got)
	}

	if err := os.Rename(tmpPath, blobPath); err != nil {
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	return &Layer{Digest: hash.String(), Path: blobPath}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	return nil
}

// DeterministicRefName turns "repo/path:tag" into "repo_path__tag", the
// on-disk key every manifest and rootfs directory is addressed by.
// Unqualified refs default to tag "latest", matching PullImage.
func DeterministicRefName(ref string) string {
	repo, tag := ref, "latest"
	if i := strings.LastIndex(ref, ":"); i >= 0 && !strings.Contains(ref[i:], "/") {
		repo, tag = ref[:i], ref[i+1:]
	}
	repo = strings.ReplaceAll(repo, "/", "_")
	return repo + "__" + tag
}
