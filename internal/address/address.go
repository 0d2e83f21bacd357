// Package address implements SourceAddress (a content-address into IPFS or
// Swarm) and the Gateway Set that resolves one to a fetchable URL.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// Origin identifies which content-addressed network a SourceAddress lives on.
type Origin string

const (
	OriginIPFS  Origin = "ipfs"
	OriginBzzr0 Origin = "bzzr0"
	OriginBzzr1 Origin = "bzzr1"
)

// SourceAddress is a content-address: an Origin plus the hash in that
// origin's natural textual encoding (base58 for ipfs, hex for bzzr*).
// Immutable once constructed.
type SourceAddress struct {
	Origin Origin
	ID     string
}

// UniqueID is the Subscription/dedup key: "<origin>:<id>".
func (a SourceAddress) UniqueID() string {
	return string(a.Origin) + ":" + a.ID
}

func (a SourceAddress) String() string {
	return a.UniqueID()
}

// NewIPFS builds a SourceAddress for raw IPFS multihash bytes, base58-encoding
// them into the id.
func NewIPFS(raw []byte) SourceAddress {
	return SourceAddress{Origin: OriginIPFS, ID: base58.Encode(raw)}
}

// NewBzzr builds a SourceAddress for raw Swarm hash bytes, hex-encoding them
// into the id. version must be OriginBzzr0 or OriginBzzr1.
func NewBzzr(version Origin, raw []byte) SourceAddress {
	return SourceAddress{Origin: version, ID: hex.EncodeToString(raw)}
}

// sha256MultihashPrefix tags a digest as sha2-256 (0x12), 32 bytes (0x20),
// the multihash encoding IPFS uses for its content identifiers.
var sha256MultihashPrefix = [2]byte{0x12, 0x20}

// HashContent derives a content identifier for arbitrary bytes in the same
// multihash-then-base58 form NewIPFS expects, so the Repository Store can
// compute the `ipfs/<hash>` path for metadata it did not receive a
// pre-computed hash for (the Injector's user-driven path). This hashes the
// raw bytes directly rather than reproducing IPFS's full UnixFS DAG
// chunking; that's sufficient for self-consistent content addressing within
// this repository, since hashing only needs to be stable under
// re-serialization of the same logical document, not bit-identical to a
// live IPFS node.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	mh := append(append([]byte{}, sha256MultihashPrefix[:]...), sum[:]...)
	return base58.Encode(mh)
}

// HashContentSwarm derives a hex content identifier for swarm-addressed
// metadata the Injector did not receive a pre-computed hash for. Real
// bzzr0/bzzr1 addressing is a binary Merkle tree over fixed-size chunks;
// no library in this repository's dependency set implements it, so this
// uses the same simplified sha256 digest as HashContent, hex-encoded to
// match NewBzzr's id form. Self-consistent, not swarm-network-compatible.
func HashContentSwarm(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RawBytes decodes the id back to its raw bytes, inverse of NewIPFS/NewBzzr.
func (a SourceAddress) RawBytes() ([]byte, error) {
	switch a.Origin {
	case OriginIPFS:
		b, err := base58.Decode(a.ID)
		if err != nil {
			return nil, fmt.Errorf("address: decode ipfs id %q: %w", a.ID, err)
		}
		return b, nil
	case OriginBzzr0, OriginBzzr1:
		b, err := hex.DecodeString(a.ID)
		if err != nil {
			return nil, fmt.Errorf("address: decode %s id %q: %w", a.Origin, a.ID, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("address: unknown origin %q", a.Origin)
	}
}
