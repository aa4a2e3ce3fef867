package state

import (
	"errors"
	"fmt"
)

// Error taxonomy (SPEC_FULL.md §7 / spec.md §7). Construction and lookup
// failures are returned to the caller wrapped in one of the sentinels
// below; programming-bug preconditions panic instead, since they indicate
// a caller defect rather than an external failure.
var (
	// ErrBadRoot is returned when an Engine is constructed against a root
	// hash the backend does not recognize.
	ErrBadRoot = errors.New("state: bad root")

	// ErrTrieRead is returned when a trie/backend lookup fails during a
	// read path (account load, storage read, code/ABI materialization).
	ErrTrieRead = errors.New("state: trie read failed")

	// ErrTrieWrite is returned when a trie/backend write fails during
	// Commit.
	ErrTrieWrite = errors.New("state: trie write failed")

	// errNonceOverflow is returned by decodeAccount when a wire nonce does
	// not fit in a uint256.
	errNonceOverflow = errors.New("state: nonce overflows uint256")
)

// wrapTrieRead wraps err as an ErrTrieRead, annotated with context.
func wrapTrieRead(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrTrieRead, err)
}

// wrapTrieWrite wraps err as an ErrTrieWrite, annotated with context.
func wrapTrieWrite(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrTrieWrite, err)
}

// wrapBadRoot wraps err as an ErrBadRoot, annotated with context.
func wrapBadRoot(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, ErrBadRoot, err)
}

// precondition panics to signal a programming-bug violation of the
// Engine's contract: Commit with open checkpoints, Revert/Discard on an
// empty checkpoint stack. These are never meant to be recovered from by a
// well-behaved caller (spec.md §7).
func precondition(format string, args ...any) {
	panic(fmt.Sprintf("state: precondition violated: "+format, args...))
}

// ReceiptErrorKind enumerates the taxonomy a VM exception is classified
// into when it crosses the apply boundary (spec.md §7). The state engine
// does not itself run a VM and therefore cannot classify an executive's
// error beyond ReceiptErrorInternal; a real executive implementation is
// expected to construct a VMExceptionMapped with the precise kind.
type ReceiptErrorKind int

const (
	// ReceiptErrorInternal is the default/fallback kind: an executive
	// failure the engine could not further classify.
	ReceiptErrorInternal ReceiptErrorKind = iota
	ReceiptErrorOutOfGas
	ReceiptErrorBadJumpDestination
	ReceiptErrorBadInstruction
	ReceiptErrorStackUnderflow
	ReceiptErrorOutOfStack
	ReceiptErrorMutableCallInStaticContext
	ReceiptErrorOutOfBounds
	ReceiptErrorReverted
)

func (k ReceiptErrorKind) String() string {
	switch k {
	case ReceiptErrorOutOfGas:
		return "OutOfGas"
	case ReceiptErrorBadJumpDestination:
		return "BadJumpDestination"
	case ReceiptErrorBadInstruction:
		return "BadInstruction"
	case ReceiptErrorStackUnderflow:
		return "StackUnderflow"
	case ReceiptErrorOutOfStack:
		return "OutOfStack"
	case ReceiptErrorMutableCallInStaticContext:
		return "MutableCallInStaticContext"
	case ReceiptErrorOutOfBounds:
		return "OutOfBounds"
	case ReceiptErrorReverted:
		return "Reverted"
	default:
		return "Internal"
	}
}

// VMExceptionMapped wraps an error surfaced by the executive across the
// apply boundary (§4.8), tagged with the receipt-error kind it maps to.
// The state engine does not interpret Err itself; it only carries it
// through so callers can distinguish "my own trie/commit failure" from
// "the executive rejected this operation," and so a receipt can carry a
// stable error kind independent of the executive's internal error types.
type VMExceptionMapped struct {
	Kind ReceiptErrorKind
	Err  error
}

func (e *VMExceptionMapped) Error() string {
	return fmt.Sprintf("state: vm exception (%s): %v", e.Kind, e.Err)
}

func (e *VMExceptionMapped) Unwrap() error {
	return e.Err
}
