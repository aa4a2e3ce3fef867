package state

import (
	"sort"

	"github.com/abichain/abichain/core/types"
)

// Commit flushes every dirty cache entry to storage and returns the new
// top-level root. It implements the two-phase commit pipeline of
// spec.md §4.7 / SPEC_FULL.md §4:
//
//  1. Per-account commit: for each dirty account, its storage overlay is
//     written into its own storage trie (producing a new StorageRoot),
//     and any freshly set code/ABI blob is written to the KV store keyed
//     by its content hash.
//  2. Top-trie commit: the account's wire-format record is re-encoded with
//     its updated StorageRoot and written into the top-level trie at its
//     address key (or removed, for a deleted account), producing the new
//     top-level root.
//
// Commit panics if any checkpoint is still open (spec.md §7): committing
// under an open checkpoint would silently discard the caller's ability to
// revert writes it has not yet decided to keep.
func (e *Engine) Commit() (types.Hash, error) {
	if e.cps.depth() != 0 {
		precondition("Commit called with %d open checkpoint(s)", e.cps.depth())
	}

	addrs := e.dirtyAddresses()
	for _, addr := range addrs {
		entry := e.cache[addr]
		if !entry.exists {
			if err := e.top.Delete(addr.Bytes()); err != nil {
				return types.Hash{}, wrapTrieWrite("state: remove account "+addr.Hex(), err)
			}
			entry.tag = tagCommitted
			continue
		}

		if err := e.commitAccount(addr, entry.account); err != nil {
			return types.Hash{}, err
		}

		enc, err := encodeAccount(entry.account)
		if err != nil {
			return types.Hash{}, wrapTrieWrite("state: encode account "+addr.Hex(), err)
		}
		if err := e.top.Put(addr.Bytes(), enc); err != nil {
			return types.Hash{}, wrapTrieWrite("state: write account "+addr.Hex(), err)
		}
		entry.tag = tagCommitted
	}

	root, err := e.top.Commit()
	if err != nil {
		return types.Hash{}, wrapTrieWrite("state: commit top trie", err)
	}

	e.metrics.Counter("state_commits_total").Inc()
	e.metrics.Gauge("state_dirty_accounts").Set(int64(len(addrs)))
	e.logger.Info("committed", "root", root.Hex(), "dirty_accounts", len(addrs))
	return root, nil
}

// commitAccount is phase 1 for a single account: flush its storage
// overlay into its own storage trie (producing a new StorageRoot) and
// stage its code/ABI blobs, if set, into the backend's KV store.
func (e *Engine) commitAccount(addr types.Address, acc *Account) error {
	if len(acc.storage) > 0 {
		addrHash := e.hashFn.Hash(addr.Bytes())
		strie, err := e.trieFactory.NewAccountTrie(addrHash, acc.StorageRoot)
		if err != nil {
			return wrapBadRoot("state: open storage trie for "+addr.Hex(), err)
		}
		for _, key := range sortedStorageKeys(acc.storage) {
			value := acc.storage[key]
			var err error
			if value == (types.Hash{}) {
				err = strie.Delete(key.Bytes())
			} else {
				err = strie.Put(key.Bytes(), value.Bytes())
			}
			if err != nil {
				return wrapTrieWrite("state: write storage "+addr.Hex(), err)
			}
		}
		root, err := strie.Commit()
		if err != nil {
			return wrapTrieWrite("state: commit storage trie "+addr.Hex(), err)
		}
		acc.StorageRoot = root
		acc.storage = nil
	}

	if acc.code != nil {
		if err := e.backend.KV().Put(blobKey('c', acc.CodeHash), acc.code); err != nil {
			return wrapTrieWrite("state: write code "+addr.Hex(), err)
		}
	}
	if acc.abi != nil {
		if err := e.backend.KV().Put(blobKey('a', acc.ABIHash), acc.abi); err != nil {
			return wrapTrieWrite("state: write abi "+addr.Hex(), err)
		}
	}
	return nil
}

// dirtyAddresses returns the addresses of every cache entry tagged dirty,
// in a deterministic order, so that Commit's behavior does not depend on
// Go's randomized map iteration order.
func (e *Engine) dirtyAddresses() []types.Address {
	var addrs []types.Address
	for addr, entry := range e.cache {
		if entry.tag == tagDirty {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i].Bytes()) < string(addrs[j].Bytes())
	})
	return addrs
}

// sortedStorageKeys returns m's keys in a deterministic order.
func sortedStorageKeys(m map[types.Hash]types.Hash) []types.Hash {
	keys := make([]types.Hash, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i].Bytes()) < string(keys[j].Bytes())
	})
	return keys
}
