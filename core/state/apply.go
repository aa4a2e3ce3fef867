package state

import (
	"errors"

	"github.com/abichain/abichain/core/types"
)

// Executive is the external collaborator that drives state changes in
// response to executed transactions: it decides which accounts to touch,
// computes gas/quota effects out of scope for this module, and produces
// the logs a transaction emits. The engine neither calls into nor
// interprets an Executive; Apply only accepts what it hands back
// (spec.md §1, §4.8).
type Executive interface {
	// Run executes one unit of work against the engine, returning any
	// logs it produced, or an error if execution failed.
	Run(e *Engine) ([]types.Log, error)
}

// Apply runs exec against the engine inside a checkpoint, so that a
// failed execution can be cleanly rolled back without requiring exec
// itself to undo its own partial writes. On success the checkpoint is
// discarded (its writes kept) and exec's logs are returned; on failure the
// checkpoint is reverted and the error is surfaced as *VMExceptionMapped,
// signalling that the failure originated in the executive rather than in
// the state engine's own trie/commit machinery (SPEC_FULL.md §4.8). If
// exec already classified its failure into the receipt-error taxonomy
// (§7) by returning its own *VMExceptionMapped, that classification is
// kept as-is rather than re-wrapped as ReceiptErrorInternal.
func (e *Engine) Apply(exec Executive) ([]types.Log, error) {
	e.Checkpoint()
	logs, err := exec.Run(e)
	if err != nil {
		e.RevertCheckpoint()
		var mapped *VMExceptionMapped
		if errors.As(err, &mapped) {
			return nil, mapped
		}
		return nil, &VMExceptionMapped{Kind: ReceiptErrorInternal, Err: err}
	}
	e.DiscardCheckpoint()
	return logs, nil
}
