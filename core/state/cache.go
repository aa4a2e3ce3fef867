package state

import "github.com/abichain/abichain/core/types"

// modTag records why a cache entry is in the local cache, so the commit
// pipeline knows which accounts need flushing. The read path serves any
// cached entry as-is, whatever its tag (SPEC_FULL.md §4.1 / spec.md §4.1).
type modTag uint8

const (
	// tagCleanFresh marks an entry loaded read-only from the trie and not
	// yet modified. Safe to evict or re-derive; never written by Commit.
	tagCleanFresh modTag = iota
	// tagDirty marks an entry modified since the last commit. Commit must
	// flush it.
	tagDirty
	// tagCommitted marks an entry flushed by the most recent Commit. Kept
	// around as a cache of the now-authoritative trie state.
	tagCommitted
)

// cacheEntry is the local cache's unit of storage: an account record plus
// its modification tag and an existence flag. A present cacheEntry with
// exists == false is either a CleanFresh record that the address was looked
// up and not found in the trie, or a Dirty tombstone recording that the
// account was removed since the last commit (spec.md §4.1, §4.6).
type cacheEntry struct {
	account *Account
	tag     modTag
	exists  bool
}

// clone returns a deep copy of the entry, used when recording a checkpoint
// frame's prior value so that later in-place mutation of the live entry
// cannot retroactively change what a revert restores.
func (e *cacheEntry) clone() *cacheEntry {
	if e == nil {
		return nil
	}
	return &cacheEntry{
		account: e.account.clone(),
		tag:     e.tag,
		exists:  e.exists,
	}
}

// overwriteWith returns the entry produced by restoring other over e: tag
// and the mandatory account fields (nonce, storage root, code/ABI hashes)
// come from other, but when both e and other hold a present account, e's
// storage overlay and code/ABI blob caches survive wherever other does not
// already carry a value for the same key (a code or ABI blob only when its
// hash still matches other's CodeHash/ABIHash), so a checkpoint revert does not
// force re-reads of storage cells or blobs that were merely observed since
// the checkpoint was opened (spec.md §4.1, §9).
func (e *cacheEntry) overwriteWith(other *cacheEntry) *cacheEntry {
	if other == nil || !other.exists || e == nil || !e.exists {
		return other.clone()
	}

	merged := other.account.clone()
	if e.account.storage != nil {
		if merged.storage == nil {
			merged.storage = make(map[types.Hash]types.Hash, len(e.account.storage))
		}
		for k, v := range e.account.storage {
			if _, conflict := other.account.storage[k]; !conflict {
				merged.storage[k] = v
			}
		}
	}
	if merged.code == nil && e.account.code != nil && e.account.CodeHash == merged.CodeHash {
		merged.code = append([]byte(nil), e.account.code...)
	}
	if merged.abi == nil && e.account.abi != nil && e.account.ABIHash == merged.ABIHash {
		merged.abi = append([]byte(nil), e.account.abi...)
	}
	return &cacheEntry{account: merged, tag: other.tag, exists: true}
}
