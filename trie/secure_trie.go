package trie

import (
	"github.com/abichain/abichain/core/types"
	"github.com/abichain/abichain/crypto"
)

// SecureTrie wraps a ResolvableTrie, hashing every key through the trie's
// configured hash family before it reaches the underlying Merkle-Patricia
// structure. This is what makes the top-level account trie and each
// account's storage trie "authenticated": a path through the trie reveals
// nothing about the preimage keys that produced it.
type SecureTrie struct {
	trie   *ResolvableTrie
	hashFn crypto.HashFunc
}

// NewSecureTrie opens a secure trie at the given root, backed by db and
// the given hash family. A zero root opens an empty trie.
func NewSecureTrie(root types.Hash, db *NodeDatabase, hashFn crypto.HashFunc) (*SecureTrie, error) {
	t, err := NewResolvableTrie(root, db, hashFn)
	if err != nil {
		return nil, err
	}
	return &SecureTrie{trie: t, hashFn: hashFn}, nil
}

// Get retrieves the value stored under key.
func (s *SecureTrie) Get(key []byte) ([]byte, error) {
	return s.trie.Get(s.hashFn(key))
}

// Put inserts or updates key's value. An empty value deletes the key.
func (s *SecureTrie) Put(key, value []byte) error {
	return s.trie.Put(s.hashFn(key), value)
}

// Delete removes key from the trie. A no-op if key is absent.
func (s *SecureTrie) Delete(key []byte) error {
	return s.trie.Delete(s.hashFn(key))
}

// Hash returns the current root hash.
func (s *SecureTrie) Hash() types.Hash {
	return s.trie.Hash()
}

// Commit flushes dirty nodes to the backing node database and returns the
// new root hash.
func (s *SecureTrie) Commit() (types.Hash, error) {
	return s.trie.Commit()
}
