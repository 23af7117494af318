package ipld

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ipfs/go-cid"
	bolt "go.etcd.io/bbolt"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

var (
	bucketBlocks   = []byte("blocks")    // cid string -> raw bytes
	bucketNodeMeta = []byte("node_meta") // cid string -> nodeMeta JSON
)

// nodeMeta is the metadata a node block records alongside its bytes: the
// codec it was encoded with and its outbound references.
type nodeMeta struct {
	Codec Codec    `json:"codec"`
	Refs  []string `json:"refs,omitempty"`
}

// BoltBlockStore persists blocks in a single bbolt database file. It
// implements Store, SeekableStore and Switchable.
type BoltBlockStore struct {
	db               *bolt.DB
	rawBlockMaxSize  int64 // 0 means unbounded
	nodeBlockMaxSize int64 // 0 means unbounded
}

// Options configures size limits on a new BoltBlockStore. Zero means
// unbounded, matching the data model's "bounded by ... (when finite)"
// wording.
type Options struct {
	RawBlockMaxSize  int64
	NodeBlockMaxSize int64
}

func NewBoltBlockStore(dataDir string, opts Options) (*BoltBlockStore, error) {
	dbPath := filepath.Join(dataDir, "blocks.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open block store: %v", monoerrors.ErrDB, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketNodeMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrDB, err)
	}

	return &BoltBlockStore{db: db, rawBlockMaxSize: opts.RawBlockMaxSize, nodeBlockMaxSize: opts.NodeBlockMaxSize}, nil
}

func (s *BoltBlockStore) Close() error { return s.db.Close() }

func (s *BoltBlockStore) PutRawBlock(ctx context.Context, data []byte) (cid.Cid, error) {
	if s.rawBlockMaxSize > 0 && int64(len(data)) > s.rawBlockMaxSize {
		return cid.Undef, monoerrors.ErrRawBlockTooLarge
	}
	id, err := ComputeCID(CodecRaw, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.putBlockIfAbsent(id, data); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

func (s *BoltBlockStore) GetRawBlock(ctx context.Context, id cid.Cid) ([]byte, error) {
	return s.getBlock(id)
}

func (s *BoltBlockStore) Has(ctx context.Context, id cid.Cid) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlocks).Get(cidKey(id)) != nil
		return nil
	})
	return found, err
}

func (s *BoltBlockStore) PutNode(ctx context.Context, codec Codec, data []byte, refs []cid.Cid) (cid.Cid, error) {
	if s.nodeBlockMaxSize > 0 && int64(len(data)) > s.nodeBlockMaxSize {
		return cid.Undef, monoerrors.ErrNodeBlockTooLarge
	}
	id, err := ComputeCID(codec, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.putBlockIfAbsent(id, data); err != nil {
		return cid.Undef, err
	}

	meta := nodeMeta{Codec: codec, Refs: cidsToStrings(refs)}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: marshal node metadata: %v", monoerrors.ErrIO, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodeMeta).Put(cidKey(id), metaBytes)
	})
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", monoerrors.ErrDB, err)
	}
	return id, nil
}

func (s *BoltBlockStore) GetNode(ctx context.Context, id cid.Cid) ([]byte, []cid.Cid, error) {
	data, err := s.getBlock(id)
	if err != nil {
		return nil, nil, err
	}

	var meta nodeMeta
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketNodeMeta).Get(cidKey(id))
		if raw == nil {
			return monoerrors.NotFound(id.String())
		}
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return nil, nil, err
	}

	refs, err := stringsToCIDs(meta.Refs)
	if err != nil {
		return nil, nil, err
	}
	return data, refs, nil
}

func (s *BoltBlockStore) GetBlockCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(bucketBlocks).Stats().KeyN)
		return nil
	})
	return n, err
}

func (s *BoltBlockStore) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.GetBlockCount(ctx)
	return n == 0, err
}

func (s *BoltBlockStore) putBlockIfAbsent(id cid.Cid, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(cidKey(id)) != nil {
			return nil // idempotent: identical bytes already stored under this CID
		}
		return b.Put(cidKey(id), data)
	})
}

func (s *BoltBlockStore) getBlock(id cid.Cid) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlocks).Get(cidKey(id))
		if raw == nil {
			return monoerrors.NotFound(id.String())
		}
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	return data, err
}

// WithStore implements Switchable: it walks every recorded node's
// references and confirms other already holds each one, without
// copying any block bytes.
func (s *BoltBlockStore) WithStore(ctx context.Context, other Store) error {
	var metas []nodeMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodeMeta).ForEach(func(_, v []byte) error {
			var m nodeMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			metas = append(metas, m)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", monoerrors.ErrDB, err)
	}

	for _, m := range metas {
		refs, err := stringsToCIDs(m.Refs)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			ok, err := other.Has(ctx, ref)
			if err != nil {
				return err
			}
			if !ok {
				return monoerrors.NotFound(fmt.Sprintf("rebind target missing block %s", ref))
			}
		}
	}
	return nil
}

func cidKey(id cid.Cid) []byte { return []byte(id.String()) }

func cidsToStrings(ids []cid.Cid) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToCIDs(ss []string) ([]cid.Cid, error) {
	out := make([]cid.Cid, len(ss))
	for i, s := range ss {
		id, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: decode cid %q: %v", monoerrors.ErrIO, s, err)
		}
		out[i] = id
	}
	return out, nil
}
