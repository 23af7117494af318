package ipld

import (
	"fmt"

	monoerrors "github.com/monocore/monocore/pkg/errors"
)

// Codec is a multicodec tag identifying how a node block's bytes are
// structured. Raw blocks carry no internal structure; they are tagged
// CodecRaw purely so a CID can be computed the same way for every block
// kind.
type Codec uint64

const (
	CodecRaw     Codec = 0x55
	CodecDagCbor Codec = 0x71
	CodecDagJSON Codec = 0x0129
	CodecDagPb   Codec = 0x70
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecDagCbor:
		return "dag-cbor"
	case CodecDagJSON:
		return "dag-json"
	case CodecDagPb:
		return "dag-pb"
	default:
		return fmt.Sprintf("codec(0x%x)", uint64(c))
	}
}

// ParseCodec converts a raw multicodec tag into a Codec, failing with
// UnsupportedCodec for any tag this store doesn't recognize.
func ParseCodec(tag uint64) (Codec, error) {
	switch Codec(tag) {
	case CodecRaw, CodecDagCbor, CodecDagJSON, CodecDagPb:
		return Codec(tag), nil
	default:
		return 0, monoerrors.UnsupportedCodec(tag)
	}
}
