package state

import "github.com/abichain/abichain/core/types"

// priorEntry records a cache entry's value before the first write to that
// address within a checkpoint frame. had == false means the address had no
// entry in the cache at all when the frame recorded it — reverting removes
// a Dirty entry installed since rather than restoring a prior value
// (spec.md §4.5).
type priorEntry struct {
	had   bool
	entry *cacheEntry
}

// checkpointFrame is one nested undo frame: a map from address to the
// cache entry that address had immediately before this frame's first write
// to it. First-write-wins: a second write to the same address within the
// same frame does not overwrite the recorded prior value.
type checkpointFrame map[types.Address]priorEntry

// checkpointStack is the engine's nested, reversible checkpoint stack
// (C4, spec.md §4.5). Frames are pushed and popped in strict LIFO order;
// popping discards or reverts exactly the top frame.
type checkpointStack struct {
	frames []checkpointFrame
}

// depth returns the number of open checkpoints.
func (s *checkpointStack) depth() int {
	return len(s.frames)
}

// push opens a new checkpoint frame.
func (s *checkpointStack) push() {
	s.frames = append(s.frames, make(checkpointFrame))
}

// record captures addr's cache entry as it stood before the caller's
// pending write. If no frame is open, record is a no-op; otherwise it
// captures only the first write to addr within the current (innermost) frame.
// had/entry describe the entry as found in the cache right now, i.e.
// before the caller applies its write.
func (s *checkpointStack) record(addr types.Address, had bool, entry *cacheEntry) {
	if len(s.frames) == 0 {
		return
	}
	top := s.frames[len(s.frames)-1]
	if _, seen := top[addr]; seen {
		return
	}
	top[addr] = priorEntry{had: had, entry: entry.clone()}
}

// discard pops the top frame without undoing any of its writes. Merges the
// frame's recorded entries into the parent frame (if any) so that an
// outer checkpoint can still revert past this frame's writes, preserving
// the first-write-wins rule at every nesting level.
func (s *checkpointStack) discard() {
	if len(s.frames) == 0 {
		precondition("discard called with no open checkpoint")
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if len(s.frames) == 0 {
		return
	}
	parent := s.frames[len(s.frames)-1]
	for addr, prior := range top {
		if _, seen := parent[addr]; !seen {
			parent[addr] = prior
		}
	}
}

// revert pops the top frame and undoes every write recorded in it. For an
// address whose saved snapshot held a present account, the live entry (if
// any) is merged with the snapshot via overwrite_with, so storage/code
// caches populated by reads since the checkpoint opened are preserved
// rather than discarded. For an address whose snapshot held no account
// (never cached, or cached as absent), a Dirty entry installed since is
// removed; a CleanFresh entry is left untouched, since it was not
// invalidated by the aborted work (spec.md §4.6).
func (s *checkpointStack) revert(cache map[types.Address]*cacheEntry) {
	if len(s.frames) == 0 {
		precondition("revert called with no open checkpoint")
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	for addr, prior := range top {
		if prior.had && prior.entry.exists {
			if cur, ok := cache[addr]; ok {
				cache[addr] = cur.overwriteWith(prior.entry)
			} else {
				cache[addr] = prior.entry.clone()
			}
			continue
		}
		if cur, ok := cache[addr]; ok && cur.tag == tagDirty {
			delete(cache, addr)
		}
	}
}
