package nfsfs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/ipfs/go-cid"

	"github.com/monocore/monocore/pkg/ipld"
)

// FS is a billy.Filesystem backed by a pkg/ipld.Store. The directory
// tree itself lives in memory, guarded by mu; file content is pushed
// into store on Close and fetched back lazily on the first Open.
type FS struct {
	store ipld.Store
	mu    sync.Mutex
	root  *inode
	cwd   string // chroot path, for Root()
}

var _ billy.Filesystem = (*FS)(nil)

// New returns an empty filesystem backed by store.
func New(store ipld.Store) *FS {
	return &FS{store: store, root: newDirInode("/", nil), cwd: "/"}
}

func (fs *FS) Join(elem ...string) string {
	return strings.Join(elem, "/")
}

func (fs *FS) resolve(filename string) (node, parentDir *inode, missingName string) {
	return lookup(fs.root, splitPath(filename))
}

func (fs *FS) Stat(filename string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, _, _ := fs.resolve(filename)
	if node == nil {
		return nil, os.ErrNotExist
	}
	return fileInfo{node}, nil
}

func (fs *FS) Lstat(filename string) (os.FileInfo, error) {
	return fs.Stat(filename)
}

func (fs *FS) Create(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (fs *FS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *FS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, parent, missing := fs.resolve(filename)
	if node == nil {
		if parent == nil || missing == "" {
			return nil, os.ErrNotExist
		}
		if flag&os.O_CREATE == 0 {
			return nil, os.ErrNotExist
		}
		node = newFileInode(missing, parent)
		node.mode = perm
		parent.children[missing] = node
	} else if node.isDir {
		return nil, fmt.Errorf("%s is a directory", filename)
	}

	if flag&os.O_TRUNC != 0 {
		node.buf = []byte{}
		node.cid = cid.Undef
		node.size = 0
	}
	if err := fs.ensureLoaded(node); err != nil {
		return nil, err
	}

	f := &file{fs: fs, ino: node}
	if flag&os.O_APPEND != 0 {
		f.pos = int64(len(node.buf))
	}
	return f, nil
}

// ensureLoaded pulls a file's content from the store into buf the
// first time it's opened after being synthesized by a re-adopted
// directory listing (buf == nil, cid valid).
func (fs *FS) ensureLoaded(node *inode) error {
	if node.isDir || node.buf != nil {
		return nil
	}
	if !node.cid.Defined() {
		node.buf = []byte{}
		return nil
	}
	r, err := fs.store.GetBytes(context.Background(), node.cid)
	if err != nil {
		return err
	}
	defer r.Close()
	buf := make([]byte, 0, node.size)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	node.buf = buf
	return nil
}

func (fs *FS) Rename(oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, oldParent, _ := fs.resolve(oldpath)
	if node == nil {
		return os.ErrNotExist
	}
	_, newParent, newName := fs.resolve(newpath)
	if newParent == nil {
		return os.ErrNotExist
	}
	delete(oldParent.children, node.name)
	node.name = newName
	node.parent = newParent
	newParent.children[newName] = node
	return nil
}

func (fs *FS) Remove(filename string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, parent, _ := fs.resolve(filename)
	if node == nil {
		return os.ErrNotExist
	}
	if node.isDir && len(node.children) > 0 {
		return fmt.Errorf("directory %s not empty", filename)
	}
	delete(parent.children, node.name)
	return nil
}

func (fs *FS) TempFile(dir, prefix string) (billy.File, error) {
	name := fs.Join(dir, fmt.Sprintf("%s%d", prefix, len(fs.root.children)))
	return fs.Create(name)
}

func (fs *FS) ReadDir(p string) ([]os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, _, _ := fs.resolve(p)
	if node == nil {
		if p == "" || p == "/" {
			node = fs.root
		} else {
			return nil, os.ErrNotExist
		}
	}
	if !node.isDir {
		return nil, fmt.Errorf("%s is not a directory", p)
	}

	entries := make([]os.FileInfo, 0, len(node.children))
	for _, child := range node.children {
		entries = append(entries, fileInfo{child})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (fs *FS) MkdirAll(filename string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cur := fs.root
	for _, part := range splitPath(filename) {
		next, ok := cur.children[part]
		if !ok {
			next = newDirInode(part, cur)
			next.mode = os.ModeDir | perm
			cur.children[part] = next
		} else if !next.isDir {
			return fmt.Errorf("%s exists and is not a directory", part)
		}
		cur = next
	}
	return nil
}

// Symlink and Readlink are part of billy.Filesystem but have no analog
// in a content-addressed tree with no link block type; spec.md's data
// model names no symlink entity, so these are unsupported rather than
// faked.
func (fs *FS) Symlink(target, link string) error {
	return fmt.Errorf("nfsfs: symlinks not supported")
}

func (fs *FS) Readlink(link string) (string, error) {
	return "", fmt.Errorf("nfsfs: symlinks not supported")
}

func (fs *FS) Chroot(p string) (billy.Filesystem, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, _, _ := fs.resolve(p)
	if node == nil || !node.isDir {
		return nil, os.ErrNotExist
	}
	return &FS{store: fs.store, root: node, cwd: fs.Join(fs.cwd, p)}, nil
}

func (fs *FS) Root() string {
	return fs.cwd
}
