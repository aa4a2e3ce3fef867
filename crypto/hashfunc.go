package crypto

import "github.com/abichain/abichain/core/types"

// HashFunc is a configured hash family. The state engine and the trie it
// sits on are parameterized over this type so that the same code builds
// either a Keccak-family or a BLAKE2-family authenticated store (SPEC_FULL.md §3).
type HashFunc func(data ...[]byte) []byte

// HashFuncHash is the types.Hash-returning counterpart of HashFunc, used at
// the engine boundary where callers want a fixed-size digest rather than a
// raw byte slice.
type HashFuncHash func(data ...[]byte) types.Hash

// KeccakFamily is the Keccak-256 hash family (golang.org/x/crypto/sha3).
var KeccakFamily HashFunc = Keccak256

// Blake2Family is the BLAKE2b-256 hash family (golang.org/x/crypto/blake2b).
var Blake2Family HashFunc = Blake2b256

// Hash returns fn's result as a types.Hash.
func (fn HashFunc) Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(fn(data...))
}
