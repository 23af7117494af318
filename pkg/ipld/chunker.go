package ipld

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// defaultChunkSize is used when the store was built with an unbounded
// raw block size; chunking must still make progress on a stream larger
// than memory.
const defaultChunkSize = 1 << 20 // 1 MiB

// manifestFanout bounds how many children a single manifest node may
// list before the chunker folds them into an intermediate level,
// keeping any one node block within its size limit.
const manifestFanout = 1024

// leafRef is one entry in a chunk manifest: either a raw leaf or
// another manifest, referenced by CID with its covered byte length.
type leafRef struct {
	CID    string `json:"cid"`
	Length uint64 `json:"length"`
}

type manifest struct {
	// TotalSize is the byte length covered by this manifest's subtree.
	TotalSize uint64    `json:"size"`
	Children  []leafRef `json:"children"`
}

func (s *BoltBlockStore) chunkSize() int64 {
	if s.rawBlockMaxSize > 0 {
		return s.rawBlockMaxSize
	}
	return defaultChunkSize
}

// PutBytes chunks r into fixed-size raw leaves (deterministic given the
// store's configured chunk size and the input, so identical input always
// yields the identical root CID) and links them through one or more
// dag-cbor manifest nodes forming a balanced tree.
func (s *BoltBlockStore) PutBytes(ctx context.Context, r io.Reader) (cid.Cid, error) {
	chunkSize := s.chunkSize()
	buf := make([]byte, chunkSize)

	var leaves []leafRef
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			leafCID, putErr := s.PutRawBlock(ctx, buf[:n])
			if putErr != nil {
				return cid.Undef, putErr
			}
			leaves = append(leaves, leafRef{CID: leafCID.String(), Length: uint64(n)})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return cid.Undef, fmt.Errorf("%w: read stream: %v", monoerrors.ErrIO, err)
		}
	}

	if len(leaves) == 0 {
		return s.PutRawBlock(ctx, nil)
	}
	if len(leaves) == 1 {
		// A single chunk needs no manifest: the raw leaf is the root.
		id, err := cid.Decode(leaves[0].CID)
		return id, err
	}

	return s.putManifestLevel(ctx, leaves)
}

// putManifestLevel folds leaves into manifest nodes of at most
// manifestFanout children each, recursing until a single root remains.
func (s *BoltBlockStore) putManifestLevel(ctx context.Context, leaves []leafRef) (cid.Cid, error) {
	if len(leaves) <= manifestFanout {
		return s.putManifestNode(ctx, leaves)
	}

	var nextLevel []leafRef
	for start := 0; start < len(leaves); start += manifestFanout {
		end := start + manifestFanout
		if end > len(leaves) {
			end = len(leaves)
		}
		groupCID, err := s.putManifestNode(ctx, leaves[start:end])
		if err != nil {
			return cid.Undef, err
		}
		nextLevel = append(nextLevel, leafRef{CID: groupCID.String(), Length: sumLength(leaves[start:end])})
	}
	return s.putManifestLevel(ctx, nextLevel)
}

func (s *BoltBlockStore) putManifestNode(ctx context.Context, children []leafRef) (cid.Cid, error) {
	m := manifest{TotalSize: sumLength(children), Children: children}
	data, err := encodeManifest(m)
	if err != nil {
		return cid.Undef, err
	}

	refs := make([]cid.Cid, len(children))
	for i, c := range children {
		id, err := cid.Decode(c.CID)
		if err != nil {
			return cid.Undef, fmt.Errorf("%w: decode child cid: %v", monoerrors.ErrIO, err)
		}
		refs[i] = id
	}
	return s.PutNode(ctx, CodecDagCbor, data, refs)
}

// encodeManifest dag-cbor encodes m via go-ipld-cbor's lower-level
// DumpObject, routed through a plain map so the reflection-based
// encoder never has to deal with Go struct tags.
func encodeManifest(m manifest) ([]byte, error) {
	generic, err := toGenericMap(m)
	if err != nil {
		return nil, err
	}
	data, err := ipldcbor.DumpObject(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: encode manifest: %v", monoerrors.ErrIO, err)
	}
	return data, nil
}

func decodeManifest(data []byte) (manifest, error) {
	var generic map[string]interface{}
	if err := ipldcbor.DecodeInto(data, &generic); err != nil {
		return manifest{}, fmt.Errorf("%w: decode manifest: %v", monoerrors.ErrIO, err)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		return manifest{}, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	return m, nil
}

func toGenericMap(m manifest) (map[string]interface{}, error) {
	asJSON, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal manifest: %v", monoerrors.ErrIO, err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	return generic, nil
}

func sumLength(refs []leafRef) uint64 {
	var total uint64
	for _, r := range refs {
		total += r.Length
	}
	return total
}

// GetBytes resolves id — whether a raw leaf or a manifest root — into a
// reader over the original byte sequence.
func (s *BoltBlockStore) GetBytes(ctx context.Context, id cid.Cid) (io.ReadCloser, error) {
	leaves, err := s.flattenLeaves(ctx, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, l := range leaves {
		leafCID, err := cid.Decode(l.CID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		data, err := s.GetRawBlock(ctx, leafCID)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return io.NopCloser(&buf), nil
}

func (s *BoltBlockStore) GetBytesSize(ctx context.Context, id cid.Cid) (uint64, error) {
	leaves, err := s.flattenLeaves(ctx, id)
	if err != nil {
		return 0, err
	}
	return sumLength(leaves), nil
}

// flattenLeaves resolves id into its full ordered list of raw leaf
// references, recursing through any manifest tree depth.
func (s *BoltBlockStore) flattenLeaves(ctx context.Context, id cid.Cid) ([]leafRef, error) {
	codec, err := CodecOf(id)
	if err != nil {
		return nil, err
	}
	if codec == CodecRaw {
		data, err := s.GetRawBlock(ctx, id)
		if err != nil {
			return nil, err
		}
		return []leafRef{{CID: id.String(), Length: uint64(len(data))}}, nil
	}

	data, _, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, err
	}

	var leaves []leafRef
	for _, child := range m.Children {
		childCID, err := cid.Decode(child.CID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
		}
		childCodec, err := CodecOf(childCID)
		if err != nil {
			return nil, err
		}
		if childCodec == CodecRaw {
			leaves = append(leaves, child)
			continue
		}
		sub, err := s.flattenLeaves(ctx, childCID)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

// seekableReader implements io.ReadSeeker over a flattened leaf list by
// binary-searching the offset table to find the chunk a given position
// falls into.
type seekableReader struct {
	ctx    context.Context
	store  *BoltBlockStore
	leaves []leafRef
	offset []uint64 // cumulative start offset of each leaf
	pos    int64
	size   int64
}

func (s *BoltBlockStore) GetSeekableBytes(ctx context.Context, id cid.Cid) (io.ReadSeeker, error) {
	leaves, err := s.flattenLeaves(ctx, id)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint64, len(leaves))
	var cum uint64
	for i, l := range leaves {
		offsets[i] = cum
		cum += l.Length
	}
	return &seekableReader{ctx: ctx, store: s, leaves: leaves, offset: offsets, size: int64(cum)}, nil
}

func (r *seekableReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.size + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", monoerrors.ErrIO, whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("%w: negative seek position", monoerrors.ErrIO)
	}
	r.pos = newPos
	return r.pos, nil
}

func (r *seekableReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}

	idx := r.leafIndexForOffset(r.pos)
	leafCID, err := cid.Decode(r.leaves[idx].CID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", monoerrors.ErrIO, err)
	}
	data, err := r.store.GetRawBlock(r.ctx, leafCID)
	if err != nil {
		return 0, err
	}

	withinLeaf := r.pos - int64(r.offset[idx])
	n := copy(p, data[withinLeaf:])
	r.pos += int64(n)
	return n, nil
}

// leafIndexForOffset binary searches r.offset for the last entry not
// exceeding pos.
func (r *seekableReader) leafIndexForOffset(pos int64) int {
	lo, hi := 0, len(r.offset)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if int64(r.offset[mid]) <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
