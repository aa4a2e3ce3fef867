package crypto

import (
	"github.com/abichain/abichain/core/types"
	"golang.org/x/crypto/blake2b"
)

// Blake2b256 calculates the BLAKE2b-256 hash of the given data.
func Blake2b256(data ...[]byte) []byte {
	d, err := blake2b.New256(nil)
	if err != nil {
		// Only occurs with a non-nil key longer than 64 bytes; New256(nil)
		// never fails in practice.
		panic("crypto: blake2b.New256: " + err.Error())
	}
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Blake2b256Hash calculates BLAKE2b-256 and returns it as a types.Hash.
func Blake2b256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Blake2b256(data...))
}
