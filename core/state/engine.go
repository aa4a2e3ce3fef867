// Package state implements the core mutable-state engine: a lazily loaded,
// checkpointed account cache layered over an authenticated Merkle-Patricia
// secure trie. See SPEC_FULL.md for the full component design.
package state

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/uint256"

	"github.com/abichain/abichain/core/types"
	"github.com/abichain/abichain/crypto"
	"github.com/abichain/abichain/log"
	"github.com/abichain/abichain/metrics"
	"github.com/abichain/abichain/trie"
)

// Config configures an Engine at construction. There is no CLI and no
// environment-variable configuration (spec.md §6): callers always build a
// Config value explicitly in-process.
type Config struct {
	// HashFunc selects the hash family (Keccak or BLAKE2) used for every
	// trie this engine opens. Defaults to crypto.KeccakFamily if nil.
	HashFunc crypto.HashFunc
	// StartNonce is the nonce a freshly created account begins with.
	StartNonce uint64
	// CodeCacheBytes sizes the off-heap cache of materialized contract
	// code blobs. Zero disables the cache (code not already held by the
	// account's cache entry is re-read from the KV store).
	CodeCacheBytes int
	// ABICacheBytes sizes the off-heap cache of materialized ABI blobs.
	ABICacheBytes int
}

func (c Config) withDefaults() Config {
	if c.HashFunc == nil {
		c.HashFunc = crypto.KeccakFamily
	}
	return c
}

// Engine is the state engine's public contract (C5): it owns the local
// account cache, the nested checkpoint stack, and the current committed
// root. It is not safe for concurrent use from multiple goroutines
// (spec.md §5).
type Engine struct {
	backend     Backend
	trieFactory TrieFactory
	hashFn      crypto.HashFunc
	emptyRoot   types.Hash // hash family's empty-trie root (StorageRoot sentinel)
	emptyBlob   types.Hash // hash family's digest of the empty byte string (CodeHash/ABIHash sentinel)
	startNonce  uint64

	top   *trie.SecureTrie
	cache map[types.Address]*cacheEntry
	cps   checkpointStack

	codeCache *fastcache.Cache
	abiCache  *fastcache.Cache

	// permissions carries the auxiliary sender/creator/resource permission
	// sets for the executive's use (spec.md §3). Opaque to the core;
	// allocated lazily by Permissions().
	permissions *Permissions

	logger  *log.Logger
	metrics *metrics.Registry
}

// New opens an Engine against backend at the given top-level root. A zero
// root opens a fresh, empty account trie.
func New(backend Backend, root types.Hash, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	factory, err := NewTrieFactory(backend, cfg.HashFunc)
	if err != nil {
		return nil, err
	}
	top, err := factory.NewTop(root)
	if err != nil {
		return nil, wrapBadRoot("state.New", err)
	}

	e := &Engine{
		backend:     backend,
		trieFactory: factory,
		hashFn:      cfg.HashFunc,
		emptyRoot:   trie.NewWithHash(cfg.HashFunc).Hash(),
		emptyBlob:   cfg.HashFunc.Hash(nil),
		startNonce:  cfg.StartNonce,
		top:         top,
		cache:       make(map[types.Address]*cacheEntry),
		logger:      log.Default().Module("state"),
		metrics:     metrics.NewRegistry(),
	}
	if cfg.CodeCacheBytes > 0 {
		e.codeCache = fastcache.New(cfg.CodeCacheBytes)
	}
	if cfg.ABICacheBytes > 0 {
		e.abiCache = fastcache.New(cfg.ABICacheBytes)
	}
	return e, nil
}

// Root returns the engine's current top-level root hash, as of the last
// Commit (or construction, if nothing has been committed yet).
func (e *Engine) Root() types.Hash {
	return e.top.Hash()
}

// EmptyRoot returns the hash family's empty-trie root, the value a fresh
// account's StorageRoot starts at and a fresh Engine's Root() returns
// before any account is ever written (spec.md §8 scenario 7).
func (e *Engine) EmptyRoot() types.Hash {
	return e.emptyRoot
}

// CheckpointDepth returns the number of currently open checkpoints.
func (e *Engine) CheckpointDepth() int {
	return e.cps.depth()
}

// Checkpoint opens a new nested checkpoint frame and returns its depth
// (1-based). Checkpoints nest; Discard/Revert always act on the innermost
// open frame (spec.md §4.5).
func (e *Engine) Checkpoint() int {
	e.cps.push()
	e.logger.Debug("checkpoint pushed", "depth", e.cps.depth())
	return e.cps.depth()
}

// DiscardCheckpoint commits the innermost checkpoint's writes permanently
// (merging them into the parent frame, if any, so an enclosing checkpoint
// can still revert past them). Panics if no checkpoint is open.
func (e *Engine) DiscardCheckpoint() {
	e.cps.discard()
	e.logger.Debug("checkpoint discarded", "depth", e.cps.depth())
}

// RevertCheckpoint undoes every write made since the innermost checkpoint
// was opened and pops it. Panics if no checkpoint is open.
func (e *Engine) RevertCheckpoint() {
	e.cps.revert(e.cache)
	e.logger.Debug("checkpoint reverted", "depth", e.cps.depth())
}

// recordBeforeWrite must be called before any mutation to addr's cache
// entry, so an open checkpoint can restore the pre-write state on revert.
func (e *Engine) recordBeforeWrite(addr types.Address) {
	entry, had := e.cache[addr]
	e.cps.record(addr, had, entry)
}

// getEntry returns addr's cache entry, lazily loading it from the trie
// (§4.2) if not already cached. The second return value is false if the
// account does not exist in either the cache or the trie.
func (e *Engine) getEntry(addr types.Address) (*cacheEntry, bool, error) {
	if entry, ok := e.cache[addr]; ok {
		return entry, entry.exists, nil
	}
	data, err := e.top.Get(addr.Bytes())
	if err == trie.ErrNotFound {
		entry := &cacheEntry{tag: tagCleanFresh, exists: false}
		e.cache[addr] = entry
		return entry, false, nil
	}
	if err != nil {
		return nil, false, wrapTrieRead("state: load account "+addr.Hex(), err)
	}
	acc, err := decodeAccount(data)
	if err != nil {
		return nil, false, wrapTrieRead("state: decode account "+addr.Hex(), err)
	}
	entry := &cacheEntry{account: acc, tag: tagCleanFresh, exists: true}
	e.cache[addr] = entry
	return entry, true, nil
}

// requireOrFrom returns addr's cache entry for a write, materializing it
// from the trie if absent and creating a fresh account if it truly does
// not exist yet. The checkpoint frame is recorded against the
// pre-materialization snapshot taken just before step 4 of this path (the
// point at which the entry is about to be mutated), matching the tie-break
// rule of spec.md §4.4: a checkpoint opened between load and write sees
// "account absent" as the revert target, not the freshly materialized
// empty account.
func (e *Engine) requireOrFrom(addr types.Address) (*cacheEntry, error) {
	entry, existed, err := e.getEntry(addr)
	if err != nil {
		return nil, err
	}
	if !existed {
		// Snapshot before materializing: the recorded "prior" state for
		// any open checkpoint is "address absent", not the about-to-exist
		// fresh account.
		e.recordBeforeWrite(addr)
		entry = &cacheEntry{account: newAccount(e.startNonce, e.emptyRoot, e.emptyBlob), tag: tagDirty, exists: true}
		e.cache[addr] = entry
		return entry, nil
	}
	e.recordBeforeWrite(addr)
	return entry, nil
}

// markDirty clones entry's account (so the checkpoint's recorded prior
// value is unaffected by this mutation), marks the clone dirty, and
// installs it as the live cache entry.
func (e *Engine) markDirty(addr types.Address, entry *cacheEntry) *cacheEntry {
	fresh := &cacheEntry{account: entry.account.clone(), tag: tagDirty, exists: true}
	e.cache[addr] = fresh
	return fresh
}

// Exists reports whether addr has an account record at all (even an empty
// one with zero nonce, no code, and no storage).
func (e *Engine) Exists(addr types.Address) (bool, error) {
	_, exists, err := e.getEntry(addr)
	return exists, err
}

// ExistsAndHasCodeOrNonce reports whether addr exists and has either code
// or a nonce that has moved past the engine's configured start nonce.
// Returns false for an absent account (spec.md §4.6 edge case, §9).
func (e *Engine) ExistsAndHasCodeOrNonce(addr types.Address) (bool, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return false, err
	}
	acc := entry.account
	var start uint256.Int
	start.SetUint64(e.startNonce)
	return acc.CodeHash != e.emptyBlob || !acc.Nonce.Eq(&start), nil
}

// ExistsAndNotNull reports whether addr exists and is not a null account.
// A record is null iff its nonce equals the engine's start nonce and both
// its code hash and ABI hash equal EMPTY_HASH (spec.md §3). Creating an
// account without otherwise touching it therefore leaves this false until
// some operation forces it away from null (spec.md §8 scenario 5, §9
// null-account rule).
func (e *Engine) ExistsAndNotNull(addr types.Address) (bool, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return false, err
	}
	acc := entry.account
	var start uint256.Int
	start.SetUint64(e.startNonce)
	isNull := acc.Nonce.Eq(&start) && acc.CodeHash == e.emptyBlob && acc.ABIHash == e.emptyBlob
	return !isNull, nil
}

// Nonce returns addr's nonce, or the zero value for a non-existent account.
func (e *Engine) Nonce(addr types.Address) (uint256.Int, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return uint256.Int{}, err
	}
	return entry.account.Nonce, nil
}

// SetNonce sets addr's nonce, creating the account if it does not exist.
func (e *Engine) SetNonce(addr types.Address, nonce uint256.Int) error {
	entry, err := e.requireOrFrom(addr)
	if err != nil {
		return err
	}
	fresh := e.markDirty(addr, entry)
	fresh.account.Nonce = nonce
	return nil
}

// IncNonce adds one to addr's nonce, creating a basic account at the
// engine's start nonce first if addr does not yet exist (spec.md §4.5).
func (e *Engine) IncNonce(addr types.Address) error {
	entry, err := e.requireOrFrom(addr)
	if err != nil {
		return err
	}
	fresh := e.markDirty(addr, entry)
	var one uint256.Int
	one.SetUint64(1)
	fresh.account.Nonce.Add(&fresh.account.Nonce, &one)
	return nil
}

// NewContract installs a fresh Dirty contract record at addr with
// nonce = start_nonce + nonceOffset and empty code/ABI/storage. Any
// pre-existing cached entry at addr — dirty or clean — is replaced
// wholesale; callers wanting to tombstone a live account first must call
// KillAccount themselves (spec.md §4.5).
func (e *Engine) NewContract(addr types.Address, nonceOffset uint64) error {
	e.recordBeforeWrite(addr)
	acc := newAccount(e.startNonce, e.emptyRoot, e.emptyBlob)
	var offset uint256.Int
	offset.SetUint64(nonceOffset)
	acc.Nonce.Add(&acc.Nonce, &offset)
	e.cache[addr] = &cacheEntry{account: acc, tag: tagDirty, exists: true}
	return nil
}

// KillAccount installs a Dirty tombstone entry at addr (account_opt =
// absent), unconditionally — unlike Remove's historical no-op-if-absent
// shortcut, this always records the write so a subsequent Commit removes
// addr from the top trie even if it was never previously materialized
// (spec.md §4.5).
func (e *Engine) KillAccount(addr types.Address) error {
	e.recordBeforeWrite(addr)
	e.cache[addr] = &cacheEntry{tag: tagDirty, exists: false}
	return nil
}

// Code returns addr's contract code, materializing it from the backend's
// KV store (keyed by CodeHash) on first access and caching the result
// (§4.3). Returns nil for an account with no code (CodeHash == emptyBlob).
func (e *Engine) Code(addr types.Address) ([]byte, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return nil, err
	}
	acc := entry.account
	if acc.CodeHash == e.emptyBlob {
		return nil, nil
	}
	if acc.code != nil {
		return acc.code, nil
	}
	if e.codeCache != nil {
		if cached := e.codeCache.Get(nil, acc.CodeHash.Bytes()); cached != nil {
			acc.code = cached
			return cached, nil
		}
	}
	code, err := e.backend.KV().Get(blobKey('c', acc.CodeHash))
	if err != nil {
		return nil, wrapTrieRead("state: load code for "+addr.Hex(), err)
	}
	acc.code = code
	if e.codeCache != nil {
		e.codeCache.Set(acc.CodeHash.Bytes(), code)
	}
	return code, nil
}

// CodeSize returns the length of addr's contract code without necessarily
// materializing the code blob's own cache entry differently than Code
// would; callers needing only the size still pay for one blob read on
// first access, exactly as Code does.
func (e *Engine) CodeSize(addr types.Address) (int, error) {
	code, err := e.Code(addr)
	return len(code), err
}

// setCode requires addr's account (creating it if absent) and installs
// code as its new contract code, recomputing CodeHash to match. Shared by
// InitCode and ResetCode, which are spec-distinct vocabulary for the same
// underlying operation (spec.md §4.5: "both init and reset semantics must
// clear the cached hash and mark the blob as the new value").
func (e *Engine) setCode(addr types.Address, code []byte) error {
	entry, err := e.requireOrFrom(addr)
	if err != nil {
		return err
	}
	fresh := e.markDirty(addr, entry)
	hash := e.hashFn.Hash(code)
	fresh.account.CodeHash = hash
	fresh.account.code = append([]byte(nil), code...)
	return nil
}

// InitCode sets addr's contract code for the first time, creating the
// account (as a contract, start-nonce) if it does not yet exist. The blob
// is staged for write at Commit time, keyed by its content hash (§4.5,
// §4.7).
func (e *Engine) InitCode(addr types.Address, code []byte) error {
	return e.setCode(addr, code)
}

// ResetCode replaces addr's contract code, creating the account if it does
// not exist. Identical to InitCode; kept as a distinct name because the
// spec's vocabulary distinguishes "init" (first-time) from "reset"
// (replace) call sites even though their effect on the record is the same
// (spec.md §4.5).
func (e *Engine) ResetCode(addr types.Address, code []byte) error {
	return e.setCode(addr, code)
}

// CodeHash returns addr's code hash, or EMPTY_HASH for an absent account.
func (e *Engine) CodeHash(addr types.Address) (types.Hash, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return e.emptyBlob, err
	}
	return entry.account.CodeHash, nil
}

// ABI returns addr's stored ABI blob, analogous to Code.
func (e *Engine) ABI(addr types.Address) ([]byte, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return nil, err
	}
	acc := entry.account
	if acc.ABIHash == e.emptyBlob {
		return nil, nil
	}
	if acc.abi != nil {
		return acc.abi, nil
	}
	if e.abiCache != nil {
		if cached := e.abiCache.Get(nil, acc.ABIHash.Bytes()); cached != nil {
			acc.abi = cached
			return cached, nil
		}
	}
	blob, err := e.backend.KV().Get(blobKey('a', acc.ABIHash))
	if err != nil {
		return nil, wrapTrieRead("state: load abi for "+addr.Hex(), err)
	}
	acc.abi = blob
	if e.abiCache != nil {
		e.abiCache.Set(acc.ABIHash.Bytes(), blob)
	}
	return blob, nil
}

// ABISize returns the length of addr's ABI blob, paying for one blob read
// on first access exactly as ABI does.
func (e *Engine) ABISize(addr types.Address) (int, error) {
	abi, err := e.ABI(addr)
	return len(abi), err
}

// ABIHash returns addr's ABI hash, or EMPTY_HASH for an absent account.
func (e *Engine) ABIHash(addr types.Address) (types.Hash, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return e.emptyBlob, err
	}
	return entry.account.ABIHash, nil
}

// setABI requires addr's account (creating it if absent) and installs abi
// as its new ABI blob, recomputing ABIHash to match. Shared by InitABI and
// ResetABI (spec.md §4.5).
func (e *Engine) setABI(addr types.Address, abi []byte) error {
	entry, err := e.requireOrFrom(addr)
	if err != nil {
		return err
	}
	fresh := e.markDirty(addr, entry)
	hash := e.hashFn.Hash(abi)
	fresh.account.ABIHash = hash
	fresh.account.abi = append([]byte(nil), abi...)
	return nil
}

// InitABI sets addr's ABI blob for the first time, creating the account if
// it does not exist (CITA-specific feature; §4.5, §4.7).
func (e *Engine) InitABI(addr types.Address, abi []byte) error {
	return e.setABI(addr, abi)
}

// ResetABI replaces addr's ABI blob, creating the account if it does not
// exist. Identical to InitABI; see ResetCode for why both names exist.
func (e *Engine) ResetABI(addr types.Address, abi []byte) error {
	return e.setABI(addr, abi)
}

// StorageRoot returns addr's storage root as of the last commit (or the
// empty-trie root, EmptyRoot, if addr does not exist). Uncommitted storage writes live only
// in the overlay and do not change this value until Commit runs (spec.md
// §3, §4.5).
func (e *Engine) StorageRoot(addr types.Address) (types.Hash, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return e.emptyRoot, err
	}
	return entry.account.StorageRoot, nil
}

// GetState returns the value stored at key in addr's storage, checking the
// in-memory overlay first and falling back to the account's storage trie
// (§4.2, §4.3). Returns the zero hash for an absent account or an unset
// key. A successful trie read populates the overlay, both as a read
// cache and so that a later write to the same key within an open
// checkpoint has the pre-write value on hand for overwrite_with to
// restore on revert (spec.md §4.2, §9).
func (e *Engine) GetState(addr types.Address, key types.Hash) (types.Hash, error) {
	entry, exists, err := e.getEntry(addr)
	if err != nil || !exists {
		return types.Hash{}, err
	}
	acc := entry.account
	if acc.storage != nil {
		if v, ok := acc.storage[key]; ok {
			return v, nil
		}
	}
	if acc.StorageRoot == e.emptyRoot {
		e.cacheStorageRead(acc, key, types.Hash{})
		return types.Hash{}, nil
	}
	strie, err := e.trieFactory.NewAccountTrie(e.hashFn.Hash(addr.Bytes()), acc.StorageRoot)
	if err != nil {
		return types.Hash{}, wrapBadRoot("state: open storage trie for "+addr.Hex(), err)
	}
	data, err := strie.Get(key.Bytes())
	if err == trie.ErrNotFound {
		e.cacheStorageRead(acc, key, types.Hash{})
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, wrapTrieRead("state: read storage "+addr.Hex(), err)
	}
	value := types.BytesToHash(data)
	e.cacheStorageRead(acc, key, value)
	return value, nil
}

// cacheStorageRead records a successful storage read in acc's overlay, so
// that a later write to the same key has the pre-write value on hand for
// overwrite_with's merge during a checkpoint revert (spec.md §4.2, §9).
func (e *Engine) cacheStorageRead(acc *Account, key, value types.Hash) {
	if acc.storage == nil {
		acc.storage = make(map[types.Hash]types.Hash)
	}
	acc.storage[key] = value
}

// SetState sets addr's storage slot key to value, creating the account if
// it does not exist. Idempotent: if key already holds value, no dirtying
// occurs and the account is not materialized (spec.md §4.5, §8 idempotence
// property). Otherwise the write lands in the in-memory overlay and is
// flushed to the account's storage trie at Commit time (§4.3, §4.6).
func (e *Engine) SetState(addr types.Address, key, value types.Hash) error {
	current, err := e.GetState(addr, key)
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	entry, err := e.requireOrFrom(addr)
	if err != nil {
		return err
	}
	fresh := e.markDirty(addr, entry)
	if fresh.account.storage == nil {
		fresh.account.storage = make(map[types.Hash]types.Hash)
	}
	fresh.account.storage[key] = value
	return nil
}

// Remove deletes addr's account entirely; an alias for KillAccount kept
// for callers that think in terms of "remove" rather than the spec's
// "kill_account" vocabulary. Removal is itself a checkpointed write:
// reverting restores the account as it stood before Remove was called
// (spec.md §4.5, §4.6).
func (e *Engine) Remove(addr types.Address) error {
	return e.KillAccount(addr)
}

// Clear drops the entire local cache, forcing every subsequent read to
// reload from the trie. Used between independent sessions against the
// same engine so a stale CleanFresh read never masks a change made by
// another party to the backend (spec.md §3, §8).
func (e *Engine) Clear() {
	e.cache = make(map[types.Address]*cacheEntry)
}

// Drop yields the engine's current root and backend so the caller can
// discard this Engine value and reopen a fresh one against the same
// underlying store (spec.md §6, §8 "drop then reopen").
func (e *Engine) Drop() (types.Hash, Backend) {
	return e.Root(), e.backend
}

// Clone returns an independent Engine sharing this one's backend (via the
// backend's own boxed-clone contract) and blob caches, carrying forward a
// copy of only this engine's Dirty cache entries. The clone's checkpoint
// stack starts empty: checkpoints are never copied (spec.md §3, §5, §8
// scenario 8). Subsequent commits on either engine do not affect the
// other's cache or root.
func (e *Engine) Clone() (*Engine, error) {
	backend := e.backend.Clone()
	factory, err := NewTrieFactory(backend, e.hashFn)
	if err != nil {
		return nil, err
	}
	top, err := factory.NewTop(e.Root())
	if err != nil {
		return nil, wrapBadRoot("state.Clone", err)
	}

	clone := &Engine{
		backend:     backend,
		trieFactory: factory,
		hashFn:      e.hashFn,
		emptyRoot:   e.emptyRoot,
		emptyBlob:   e.emptyBlob,
		startNonce:  e.startNonce,
		top:         top,
		cache:       make(map[types.Address]*cacheEntry, len(e.cache)),
		codeCache:   e.codeCache,
		abiCache:    e.abiCache,
		logger:      log.Default().Module("state"),
		metrics:     metrics.NewRegistry(),
	}
	for addr, entry := range e.cache {
		if entry.tag == tagDirty {
			clone.cache[addr] = entry.clone()
		}
	}
	return clone, nil
}

// Permissions holds the auxiliary permission sets carried alongside the
// engine for the executive's use — which addresses may send transactions,
// which may create contracts, and which resources each address may reach.
// The core never reads or enforces this data; it is opaque bookkeeping
// the executive owns (spec.md §3).
type Permissions struct {
	Senders   map[types.Address]struct{}
	Creators  map[types.Address]struct{}
	Resources map[types.Address][]string
}

// Permissions returns the engine's permission sets, allocating them on
// first use so a caller that never touches permissions pays nothing for
// them.
func (e *Engine) Permissions() *Permissions {
	if e.permissions == nil {
		e.permissions = &Permissions{
			Senders:   make(map[types.Address]struct{}),
			Creators:  make(map[types.Address]struct{}),
			Resources: make(map[types.Address][]string),
		}
	}
	return e.permissions
}

// blobKey namespaces a content-addressed blob key by kind ('c' for code,
// 'a' for ABI) so code and ABI blobs with colliding hash prefixes (not
// possible under a sound hash function, but cheap to rule out) can never
// collide in the shared KV namespace.
func blobKey(kind byte, hash types.Hash) []byte {
	key := make([]byte, 1+types.HashLength)
	key[0] = kind
	copy(key[1:], hash.Bytes())
	return key
}
