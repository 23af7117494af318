package nfsfs

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

// inode is one entry in the in-memory directory tree: either a
// directory (children populated, content fields unused) or a regular
// file (content cached in buf, persisted in the block store under cid
// once flushed by a close).
type inode struct {
	name    string
	mode    os.FileMode
	modTime time.Time
	isDir   bool

	parent   *inode
	children map[string]*inode // directories only

	cid  cid.Cid // valid once the file's bytes have been flushed
	size int64
	buf  []byte // in-memory content cache, authoritative until flush
}

func newDirInode(name string, parent *inode) *inode {
	return &inode{
		name:     name,
		mode:     os.ModeDir | 0755,
		modTime:  time.Now(),
		isDir:    true,
		parent:   parent,
		children: map[string]*inode{},
	}
}

func newFileInode(name string, parent *inode) *inode {
	return &inode{
		name:    name,
		mode:    0644,
		modTime: time.Now(),
		parent:  parent,
		buf:     []byte{},
	}
}

func splitPath(p string) []string {
	p = path.Clean("/" + strings.ReplaceAll(p, string(os.PathSeparator), "/"))
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// lookup walks parts from root, returning the inode and, for a missing
// final element, its would-be parent directory.
func lookup(root *inode, parts []string) (node, parentDir *inode, missing string) {
	cur := root
	for i, part := range parts {
		if !cur.isDir {
			return nil, nil, ""
		}
		next, ok := cur.children[part]
		if !ok {
			if i == len(parts)-1 {
				return nil, cur, part
			}
			return nil, nil, ""
		}
		cur = next
	}
	return cur, cur.parent, ""
}

type fileInfo struct {
	ino *inode
}

func (fi fileInfo) Name() string       { return fi.ino.name }
func (fi fileInfo) Size() int64        { return fi.ino.size }
func (fi fileInfo) Mode() os.FileMode  { return fi.ino.mode }
func (fi fileInfo) ModTime() time.Time { return fi.ino.modTime }
func (fi fileInfo) IsDir() bool        { return fi.ino.isDir }
func (fi fileInfo) Sys() any           { return fi.ino }
