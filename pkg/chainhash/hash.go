// Package chainhash provides the hashing primitives used throughout the
// chain and wallet: block/tx identity hashes, name hashes, and the
// two-child hash used to build the authenticated name tree and tx merkle
// roots.
package chainhash

import (
	"github.com/hnsd-go/hnscore/pkg/types"
	"github.com/zeebo/blake3"
)

// Sum computes a BLAKE3-256 hash of the input data.
func Sum(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleSum computes Sum(Sum(data)).
func DoubleSum(data []byte) types.Hash {
	first := Sum(data)
	return Sum(first[:])
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Sum(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// NameHash hashes a name to the 256-bit key the name tree and NS table are
// indexed by.
func NameHash(name string) types.Hash {
	return Sum([]byte(name))
}

// Concat hashes the concatenation of two hashes. Used both for merkle-style
// tx roots and for the name tree's internal node hashing.
func Concat(a, b types.Hash) types.Hash {
	var buf [2 * types.HashSize]byte
	copy(buf[:types.HashSize], a[:])
	copy(buf[types.HashSize:], b[:])
	return Sum(buf[:])
}

// Blind computes the BID commitment hash for a bid of the given value and
// nonce: blind = Sum(nonce || value). REVEAL validates this against the
// disclosed (nonce, value) pair.
func Blind(nonce [32]byte, value uint64) types.Hash {
	var buf [40]byte
	copy(buf[:32], nonce[:])
	buf[32] = byte(value)
	buf[33] = byte(value >> 8)
	buf[34] = byte(value >> 16)
	buf[35] = byte(value >> 24)
	buf[36] = byte(value >> 32)
	buf[37] = byte(value >> 40)
	buf[38] = byte(value >> 48)
	buf[39] = byte(value >> 56)
	return Sum(buf[:])
}
