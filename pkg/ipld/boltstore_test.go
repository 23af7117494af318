package ipld

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

func newTestBlockStore(t *testing.T, opts Options) *BoltBlockStore {
	t.Helper()
	store, err := NewBoltBlockStore(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRawBlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{})

	id, err := store.PutRawBlock(ctx, []byte("payload"))
	require.NoError(t, err)

	id2, err := store.PutRawBlock(ctx, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, id, id2, "identical bytes must produce the identical CID")

	data, err := store.GetRawBlock(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	has, err := store.Has(ctx, id)
	require.NoError(t, err)
	require.True(t, has)
}

func TestGetRawBlockNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{})

	fake, err := ComputeCID(CodecRaw, []byte("never stored"))
	require.NoError(t, err)

	_, err = store.GetRawBlock(ctx, fake)
	require.ErrorIs(t, err, monoerrors.ErrNotFound)

	has, err := store.Has(ctx, fake)
	require.NoError(t, err)
	require.False(t, has)
}

func TestPutRawBlockEnforcesSizeLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{RawBlockMaxSize: 4})

	_, err := store.PutRawBlock(ctx, []byte("fits"))
	require.NoError(t, err)

	_, err = store.PutRawBlock(ctx, []byte("does not fit"))
	require.ErrorIs(t, err, monoerrors.ErrRawBlockTooLarge)
}

func TestPutGetNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{})

	leaf, err := store.PutRawBlock(ctx, []byte("leaf"))
	require.NoError(t, err)

	nodeID, err := store.PutNode(ctx, CodecDagCbor, []byte("node bytes"), []cid.Cid{leaf})
	require.NoError(t, err)

	data, refs, err := store.GetNode(ctx, nodeID)
	require.NoError(t, err)
	require.Equal(t, []byte("node bytes"), data)
	require.Equal(t, []cid.Cid{leaf}, refs)
}

func TestPutNodeEnforcesSizeLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{NodeBlockMaxSize: 4})

	_, err := store.PutNode(ctx, CodecDagCbor, []byte("too big"), nil)
	require.ErrorIs(t, err, monoerrors.ErrNodeBlockTooLarge)
}

func TestBlockCountAndIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestBlockStore(t, Options{})

	empty, err := store.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	_, err = store.PutRawBlock(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = store.PutRawBlock(ctx, []byte("two"))
	require.NoError(t, err)

	count, err := store.GetBlockCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	empty, err = store.IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)
}

func TestWithStoreSucceedsWhenTargetHoldsAllReferences(t *testing.T) {
	ctx := context.Background()
	src := newTestBlockStore(t, Options{})
	dst := newTestBlockStore(t, Options{})

	leaf, err := src.PutRawBlock(ctx, []byte("shared leaf"))
	require.NoError(t, err)
	_, err = src.PutNode(ctx, CodecDagCbor, []byte("manifest"), []cid.Cid{leaf})
	require.NoError(t, err)

	// dst only needs to hold the blocks src's nodes reference, not the
	// node blocks themselves, to pass the rebind check.
	_, err = dst.PutRawBlock(ctx, []byte("shared leaf"))
	require.NoError(t, err)

	require.NoError(t, src.WithStore(ctx, dst))
}

func TestWithStoreFailsWhenTargetMissingReference(t *testing.T) {
	ctx := context.Background()
	src := newTestBlockStore(t, Options{})
	dst := newTestBlockStore(t, Options{})

	leaf, err := src.PutRawBlock(ctx, []byte("only in src"))
	require.NoError(t, err)
	_, err = src.PutNode(ctx, CodecDagCbor, []byte("manifest"), []cid.Cid{leaf})
	require.NoError(t, err)

	err = src.WithStore(ctx, dst)
	require.ErrorIs(t, err, monoerrors.ErrNotFound)
}
