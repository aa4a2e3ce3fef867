package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/abichain/abichain/core/types"
	"github.com/abichain/abichain/rlp"
)

// Account is the in-memory representation of an account record. Unlike the
// EVM-balance-style account kept elsewhere in this corpus, this record has
// no balance field: nonce, a storage root, and content-addressed code/ABI
// hashes are the whole of the authenticated wire format (SPEC_FULL.md §3).
//
// Code, ABI, and the storage overlay are transient: they are not part of
// the wire format and are only materialized on demand (§4.3).
type Account struct {
	Nonce       uint256.Int
	StorageRoot types.Hash
	CodeHash    types.Hash
	ABIHash     types.Hash

	code []byte // lazily loaded/set contract bytecode, keyed by CodeHash
	abi  []byte // lazily loaded/set ABI blob, keyed by ABIHash

	// storage is the in-memory overlay of storage slots touched since the
	// account was last loaded from (or committed to) its trie. A slot set
	// to the zero hash records a deletion.
	storage map[types.Hash]types.Hash
}

// The CodeHash/ABIHash of an account with no code or no ABI is the
// hash-family-dependent digest of the empty byte string. It is computed per
// hash family; Engine caches its own copy (emptyBlob) at construction (see
// engine.go).

// newAccount returns a fresh account with the given start nonce and empty
// code/ABI/storage. emptyRoot is the hash family's empty-trie root (used
// for StorageRoot); emptyBlobHash is the hash family's digest of the empty
// byte string (used for CodeHash/ABIHash). The two differ: a trie's empty
// root is the digest of the RLP encoding of the empty string, not of the
// empty string itself (SPEC_FULL.md §3, §8 scenario 7).
func newAccount(startNonce uint64, emptyRoot, emptyBlobHash types.Hash) *Account {
	a := &Account{
		StorageRoot: emptyRoot,
		CodeHash:    emptyBlobHash,
		ABIHash:     emptyBlobHash,
	}
	a.Nonce.SetUint64(startNonce)
	return a
}

// clone returns a deep copy of the account, including its transient blob
// and storage-overlay state. Cache entries must clone on write so that a
// checkpoint's recorded prior entry is never mutated by a later write.
func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	cp := &Account{
		StorageRoot: a.StorageRoot,
		CodeHash:    a.CodeHash,
		ABIHash:     a.ABIHash,
	}
	cp.Nonce.Set(&a.Nonce)
	if a.code != nil {
		cp.code = append([]byte(nil), a.code...)
	}
	if a.abi != nil {
		cp.abi = append([]byte(nil), a.abi...)
	}
	if a.storage != nil {
		cp.storage = make(map[types.Hash]types.Hash, len(a.storage))
		for k, v := range a.storage {
			cp.storage[k] = v
		}
	}
	return cp
}

// accountRLP is the wire shape of an account record: the 4-tuple
// (Nonce, StorageRoot, CodeHash, ABIHash), with no balance field
// (SPEC_FULL.md §6). Nonce is carried as *big.Int across the wire because
// the kept rlp package special-cases *big.Int encoding/decoding; Account
// itself keeps the wider uint256.Int for in-memory arithmetic (§3).
type accountRLP struct {
	Nonce       *big.Int
	StorageRoot types.Hash
	CodeHash    types.Hash
	ABIHash     types.Hash
}

// encodeAccount RLP-encodes the account's wire fields.
func encodeAccount(a *Account) ([]byte, error) {
	w := accountRLP{
		Nonce:       a.Nonce.ToBig(),
		StorageRoot: a.StorageRoot,
		CodeHash:    a.CodeHash,
		ABIHash:     a.ABIHash,
	}
	return rlp.EncodeToBytes(w)
}

// decodeAccount decodes an account's wire fields. Transient fields
// (code/abi/storage) are left empty; callers materialize them lazily.
func decodeAccount(data []byte) (*Account, error) {
	var w accountRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, err
	}
	a := &Account{
		StorageRoot: w.StorageRoot,
		CodeHash:    w.CodeHash,
		ABIHash:     w.ABIHash,
	}
	if w.Nonce != nil {
		overflow := a.Nonce.SetFromBig(w.Nonce)
		if overflow {
			return nil, errNonceOverflow
		}
	}
	return a, nil
}
