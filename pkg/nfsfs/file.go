package nfsfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// file is a billy.File view onto an inode's in-memory buffer. Content
// is flushed into the block store on Close; reads before the first
// flush see the in-progress buffer directly.
type file struct {
	fs  *FS
	ino *inode

	mu     sync.Mutex
	pos    int64
	closed bool
}

func (f *file) Name() string { return f.ino.name }

func (f *file) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, fmt.Errorf("nfsfs: write on closed file")
	}

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	end := f.pos + int64(len(p))
	if end > int64(len(f.ino.buf)) {
		grown := make([]byte, end)
		copy(grown, f.ino.buf)
		f.ino.buf = grown
	}
	n := copy(f.ino.buf[f.pos:end], p)
	f.pos += int64(n)
	f.ino.size = int64(len(f.ino.buf))
	return n, nil
}

func (f *file) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAtLocked(p, f.pos, true)
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAtLocked(p, off, false)
}

func (f *file) readAtLocked(p []byte, off int64, advance bool) (int, error) {
	f.fs.mu.Lock()
	buf := f.ino.buf
	f.fs.mu.Unlock()

	if off >= int64(len(buf)) {
		return 0, io.EOF
	}
	n := copy(p, buf[off:])
	if advance {
		f.pos = off + int64(n)
	}
	var err error
	if off+int64(n) >= int64(len(buf)) {
		err = io.EOF
	}
	return n, err
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fs.mu.Lock()
	size := int64(len(f.ino.buf))
	f.fs.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = size + offset
	default:
		return 0, fmt.Errorf("nfsfs: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("nfsfs: negative seek position")
	}
	f.pos = newPos
	return newPos, nil
}

func (f *file) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	switch {
	case size < int64(len(f.ino.buf)):
		f.ino.buf = f.ino.buf[:size]
	case size > int64(len(f.ino.buf)):
		grown := make([]byte, size)
		copy(grown, f.ino.buf)
		f.ino.buf = grown
	}
	f.ino.size = size
	return nil
}

// Close flushes the file's current buffer into the block store,
// recording the resulting CID on the inode so future opens avoid
// re-fetching unchanged content.
func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	f.fs.mu.Lock()
	buf := f.ino.buf
	f.fs.mu.Unlock()

	id, err := f.fs.store.PutBytes(context.Background(), bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("nfsfs: flush %s: %w", f.ino.name, err)
	}

	f.fs.mu.Lock()
	f.ino.cid = id
	f.fs.mu.Unlock()
	return nil
}

// Lock/Unlock satisfy billy.File; this filesystem has no concurrent
// multi-writer story beyond the single process-wide mutex every
// operation already takes, so these are no-ops.
func (f *file) Lock() error   { return nil }
func (f *file) Unlock() error { return nil }
