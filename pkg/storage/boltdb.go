package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	monoerrors "github.com/monocore/monocore/pkg/errors"
	"github.com/monocore/monocore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// openTimeout bounds how long bolt.Open waits for the file lock before
// giving up. Without it a second process opening the same sandbox.db
// while another already holds it blocks forever instead of failing
// with a diagnosable error.
const openTimeout = 5 * time.Second

var (
	bucketSandboxes   = []byte("sandboxes")
	bucketFilesystems = []byte("filesystems")
)

// BoltStore implements Store on top of a single bbolt database file,
// one per orchestrator root directory.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the sandbox database at
// <dataDir>/sandbox.db, per the rootfs layout in the external
// interfaces section.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "sandbox.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", monoerrors.ErrDB, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSandboxes, bucketFilesystems} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrDB, err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func pidKey(pid int) []byte {
	return []byte(strconv.Itoa(pid))
}

// --- Sandboxes ---

func (s *BoltStore) CreateSandbox(row *types.SandboxRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(pidKey(row.SupervisorPID), data)
	})
}

func (s *BoltStore) GetSandbox(supervisorPID int) (*types.SandboxRow, error) {
	var row types.SandboxRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data := b.Get(pidKey(supervisorPID))
		if data == nil {
			return monoerrors.NotFound(fmt.Sprintf("sandbox supervisor_pid=%d", supervisorPID))
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *BoltStore) GetSandboxByName(name string) (*types.SandboxRow, error) {
	var found *types.SandboxRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		return b.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var row types.SandboxRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Name == name {
				found = &row
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, monoerrors.NotFound(fmt.Sprintf("sandbox name=%s", name))
	}
	return found, nil
}

func (s *BoltStore) ListSandboxes() ([]*types.SandboxRow, error) {
	var rows []*types.SandboxRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		return b.ForEach(func(k, v []byte) error {
			var row types.SandboxRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, &row)
			return nil
		})
	})
	return rows, err
}

func (s *BoltStore) UpdateSandbox(row *types.SandboxRow) error {
	return s.CreateSandbox(row)
}

func (s *BoltStore) DeleteSandbox(supervisorPID int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		return b.Delete(pidKey(supervisorPID))
	})
}

// --- Filesystems ---

func (s *BoltStore) CreateFilesystem(row *types.FilesystemRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilesystems)
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(pidKey(row.SupervisorPID), data)
	})
}

func (s *BoltStore) GetFilesystem(supervisorPID int) (*types.FilesystemRow, error) {
	var row types.FilesystemRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilesystems)
		data := b.Get(pidKey(supervisorPID))
		if data == nil {
			return monoerrors.NotFound(fmt.Sprintf("filesystem supervisor_pid=%d", supervisorPID))
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *BoltStore) GetFilesystemByName(name string) (*types.FilesystemRow, error) {
	var found *types.FilesystemRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilesystems)
		return b.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var row types.FilesystemRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Name == name {
				found = &row
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, monoerrors.NotFound(fmt.Sprintf("filesystem name=%s", name))
	}
	return found, nil
}

func (s *BoltStore) ListFilesystems() ([]*types.FilesystemRow, error) {
	var rows []*types.FilesystemRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilesystems)
		return b.ForEach(func(k, v []byte) error {
			var row types.FilesystemRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, &row)
			return nil
		})
	})
	return rows, err
}

func (s *BoltStore) DeleteFilesystem(supervisorPID int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilesystems)
		return b.Delete(pidKey(supervisorPID))
	})
}
