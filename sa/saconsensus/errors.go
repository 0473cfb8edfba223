package saconsensus

import "errors"

// Protocol-timing errors.
// These never terminate a round; they only decide whether a message is queued or dropped.
var (
	// ErrPastEvent indicates a message for a round or step already passed.
	// Such messages are dropped and never requeued.
	ErrPastEvent = errors.New("past event")

	// ErrFutureEvent indicates a message for a round or step not yet reached.
	// The caller is responsible for placing it in the future-message queue.
	ErrFutureEvent = errors.New("future event")
)

// Authorization errors: the message is dropped.
var (
	ErrNotCommitteeMember = errors.New("not a committee member")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// Data errors: treated like authorization errors.
var (
	ErrInvalidBlock   = errors.New("invalid block")
	ErrInvalidMsgType = errors.New("invalid message type")
)

// Liveness errors terminate the current round attempt.
// The round driver surfaces them so the caller can start a fresh round.
var (
	ErrMaxStepReached      = errors.New("max step reached")
	ErrCanceled            = errors.New("round canceled")
	ErrChildTaskTerminated = errors.New("child task terminated")
)

// IsDroppable reports whether err only means "drop this message and carry on".
func IsDroppable(err error) bool {
	return errors.Is(err, ErrPastEvent) ||
		errors.Is(err, ErrNotCommitteeMember) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidBlock) ||
		errors.Is(err, ErrInvalidMsgType)
}
