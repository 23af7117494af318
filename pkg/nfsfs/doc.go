// Package nfsfs exposes a content-addressed filesystem tree over the
// NFSv3 wire protocol: a billy.Filesystem whose file bytes live in a
// pkg/ipld.Store, served by github.com/willscott/go-nfs. The tree
// structure itself (directory entries and metadata) is kept in memory
// under a single mutex; only file content is pushed through the block
// store, since spec.md's data model has no directory-manifest block
// type of its own to round-trip through.
package nfsfs
