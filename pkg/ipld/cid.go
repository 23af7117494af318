package ipld

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// ComputeCID hashes codec||data with SHA-256 and returns a CIDv1 tagged
// with codec. Identical (codec, data) pairs always produce the
// identical CID, which is what makes put_raw_block and put_bytes
// idempotent.
func ComputeCID(codec Codec, data []byte) (cid.Cid, error) {
	prefixed := append(varint.ToUvarint(uint64(codec)), data...)

	sum, err := mh.Sum(prefixed, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: hash block: %v", monoerrors.ErrIO, err)
	}
	return cid.NewCidV1(uint64(codec), sum), nil
}

// CodecOf extracts the Codec this CID was tagged with at creation.
func CodecOf(id cid.Cid) (Codec, error) {
	return ParseCodec(id.Type())
}
