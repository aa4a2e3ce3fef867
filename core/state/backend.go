package state

import (
	"fmt"

	"github.com/abichain/abichain/core/rawdb"
	"github.com/abichain/abichain/core/types"
	"github.com/abichain/abichain/crypto"
	"github.com/abichain/abichain/trie"
)

// Backend is the opaque handle to the authenticated key/value store that
// backs every trie the engine opens: the top-level account trie, each
// account's storage trie, and (through its own KV namespace) the
// content-addressed code/ABI blob store (SPEC_FULL.md §6 / spec.md §6).
type Backend interface {
	// View returns a reader over the backend's committed trie nodes.
	View() (trie.NodeReader, error)
	// ViewMut returns a writer that commits trie nodes to the backend.
	ViewMut() (trie.NodeWriter, error)
	// Contains reports whether the backend already holds a node keyed by
	// hash.
	Contains(hash types.Hash) bool
	// Clone returns a new Backend handle for another Engine. The default
	// implementation shares both the KV store and the trie.NodeDatabase
	// dirty-node cache with the original.
	Clone() Backend
	// KV returns the raw key/value store, used for content-addressed
	// code/ABI blobs that live outside the trie structure.
	KV() rawdb.Database
}

// kvBackend is the default Backend implementation: a rawdb.Database (either
// rawdb.MemoryDB or rawdb.PebbleDB) fronted by a trie.NodeDatabase dirty
// cache, exactly the two-layer arrangement trie/database.go implements.
type kvBackend struct {
	kv    rawdb.Database
	nodes *trie.NodeDatabase
}

// NewBackend wraps a rawdb.Database as a Backend.
func NewBackend(kv rawdb.Database) Backend {
	reader := trie.NewRawDBNodeReader(kv.Get)
	return &kvBackend{kv: kv, nodes: trie.NewNodeDatabase(reader)}
}

func (b *kvBackend) View() (trie.NodeReader, error) {
	return b.nodes, nil
}

func (b *kvBackend) ViewMut() (trie.NodeWriter, error) {
	return trie.NewRawDBNodeWriter(b.kv.Put), nil
}

func (b *kvBackend) Contains(hash types.Hash) bool {
	ok, err := b.kv.Has(append([]byte("t"), hash[:]...))
	return err == nil && ok
}

func (b *kvBackend) Clone() Backend {
	return &kvBackend{kv: b.kv, nodes: b.nodes}
}

func (b *kvBackend) KV() rawdb.Database {
	return b.kv
}

// TrieFactory opens secure tries against a Backend. Kept distinct from
// Backend itself so tests can substitute a factory that shares one
// trie.NodeDatabase across every trie it opens, independent of how the
// underlying KV store is wired (SPEC_FULL.md §6).
type TrieFactory interface {
	// NewTop opens the top-level account trie at the given root. A zero
	// root opens an empty trie.
	NewTop(root types.Hash) (*trie.SecureTrie, error)
	// NewAccountTrie opens an account's storage trie at the given root.
	// addrHash namespaces the trie to its owning account for backends
	// that partition storage by account; the default backend's node
	// database is already content-addressed and does not need it.
	NewAccountTrie(addrHash types.Hash, root types.Hash) (*trie.SecureTrie, error)
}

// trieFactory is the default TrieFactory, built directly on a kvBackend's
// shared dirty-node cache.
type trieFactory struct {
	nodes  *trie.NodeDatabase
	hashFn crypto.HashFunc
}

// NewTrieFactory builds a TrieFactory over backend using the given hash
// family. backend must be one constructed by NewBackend.
func NewTrieFactory(backend Backend, hashFn crypto.HashFunc) (TrieFactory, error) {
	kb, ok := backend.(*kvBackend)
	if !ok {
		return nil, fmt.Errorf("state: unsupported backend type %T", backend)
	}
	return &trieFactory{nodes: kb.nodes, hashFn: hashFn}, nil
}

func (f *trieFactory) NewTop(root types.Hash) (*trie.SecureTrie, error) {
	return trie.NewSecureTrie(root, f.nodes, f.hashFn)
}

func (f *trieFactory) NewAccountTrie(_ types.Hash, root types.Hash) (*trie.SecureTrie, error) {
	return trie.NewSecureTrie(root, f.nodes, f.hashFn)
}
