package ipld

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
)

// RawStore is the raw-block subset of Store: entities that only ever
// need opaque bytes (a staging area, say) can depend on this alone
// instead of the full Store capability set.
type RawStore interface {
	PutRawBlock(ctx context.Context, data []byte) (cid.Cid, error)
	GetRawBlock(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}

// Store is the full content-addressed block store contract: raw-block
// and node-block persistence, chunked byte streams, and store-wide
// queries. It is cheap to clone — implementations should be a thin
// handle over shared storage, not a heavy value type.
type Store interface {
	RawStore

	// PutNode stores data (already encoded in codec's wire form) and
	// records refs as this node's outbound references for later
	// reachability analysis.
	PutNode(ctx context.Context, codec Codec, data []byte, refs []cid.Cid) (cid.Cid, error)
	// GetNode returns a node block's encoded bytes and its recorded
	// references.
	GetNode(ctx context.Context, id cid.Cid) (data []byte, refs []cid.Cid, err error)

	// PutBytes chunks r into one or more raw leaf blocks linked
	// through dag-cbor manifest nodes, returning the root CID. Safe
	// for streams larger than available memory.
	PutBytes(ctx context.Context, r io.Reader) (cid.Cid, error)
	// GetBytes returns a reader over the original byte sequence
	// identified by id, whether id is a raw leaf or a manifest root.
	GetBytes(ctx context.Context, id cid.Cid) (io.ReadCloser, error)
	GetBytesSize(ctx context.Context, id cid.Cid) (uint64, error)

	GetBlockCount(ctx context.Context) (uint64, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// SeekableStore is the optional capability for stores whose backing
// medium supports random access into a chunked byte stream.
type SeekableStore interface {
	GetSeekableBytes(ctx context.Context, id cid.Cid) (io.ReadSeeker, error)
}

// Switchable lets a store-embedding entity rebind to a different store
// instance without migrating data. The caller is responsible for
// ensuring other already holds every block reachable from whatever the
// embedding entity currently points at; WithStore verifies this for
// its own recorded node references before returning.
type Switchable interface {
	WithStore(ctx context.Context, other Store) error
}
