package saconsensus

import "context"

// CallParams are the opaque parameters passed to [Operations].
type CallParams struct {
	Round           uint64
	BlockGasLimit   uint64
	GeneratorPubKey []byte
}

// VerificationOutput is the result of executing a set of transactions.
type VerificationOutput struct {
	StateRoot Hash
}

// Operations is the state-transition collaborator.
// The engine treats every error from VerifyStateTransition as "do not vote";
// it never terminates the round.
type Operations interface {
	// VerifyStateTransition checks that applying txs on top of the current state is valid.
	VerifyStateTransition(ctx context.Context, params CallParams, txs [][]byte) (VerificationOutput, error)

	// ExecuteStateTransition selects and executes transactions for a new candidate.
	ExecuteStateTransition(ctx context.Context, params CallParams) ([][]byte, VerificationOutput, error)

	// Accept applies a winning block's transactions.
	Accept(ctx context.Context, params CallParams, txs [][]byte) (VerificationOutput, error)

	// Finalize marks the accepted state as irreversible.
	Finalize(ctx context.Context, params CallParams, txs [][]byte) (VerificationOutput, error)

	GetStateRoot(ctx context.Context) (Hash, error)
}
