/*
Package ipld implements the content-addressed block store backing the
filesystem service: raw blocks, structured node blocks keyed by CID, and
chunked storage of byte streams larger than a single block.

A CID is computed as the multihash of the codec tag concatenated with
the block's bytes; see cid.go. Node blocks record their outbound
references explicitly (store.go's PutNode) so the store can answer
reachability queries without deserializing application-level values.
Byte streams are split into fixed-size raw leaves and linked through one
or more dag-cbor manifest nodes forming a balanced tree; see chunker.go.
*/
package ipld
