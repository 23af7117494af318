// Package ociregistry pulls image manifests and layer blobs from a
// Docker-v2 registry into an on-disk OCI directory, verifying each
// layer's digest before it is ever made visible to a reader.
package ociregistry
