// Package overlay composes an OCI image's layer tarballs into a single
// rootfs tree, preferring a kernel overlay mount and falling back to a
// file-by-file copy-overlay where that isn't available.
package overlay
