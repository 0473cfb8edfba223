// Package saoptest contains an in-memory [saconsensus.Operations] for tests and simulations.
package saoptest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"golang.org/x/crypto/sha3"
)

// ErrRejected is returned by VerifyStateTransition when the configured rejection predicate matches.
var ErrRejected = errors.New("state transition rejected")

// Operations is a deterministic fake state machine.
//
// The state root is a hash chain over every accepted transaction list,
// so nodes that accept the same blocks agree on the root.
// Generated candidates contain a single transaction naming the round and generator.
type Operations struct {
	mu sync.Mutex

	root saconsensus.Hash

	reject func(txs [][]byte) bool

	accepted  [][][]byte
	finalized int
}

func NewOperations() *Operations {
	return &Operations{}
}

// RejectWhen installs a predicate; matching transaction lists fail verification.
func (o *Operations) RejectWhen(f func(txs [][]byte) bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reject = f
}

func (o *Operations) VerifyStateTransition(
	_ context.Context, _ saconsensus.CallParams, txs [][]byte,
) (saconsensus.VerificationOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reject != nil && o.reject(txs) {
		return saconsensus.VerificationOutput{}, ErrRejected
	}
	return saconsensus.VerificationOutput{StateRoot: nextRoot(o.root, txs)}, nil
}

func (o *Operations) ExecuteStateTransition(
	_ context.Context, params saconsensus.CallParams,
) ([][]byte, saconsensus.VerificationOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	gen := params.GeneratorPubKey
	if len(gen) > 4 {
		gen = gen[:4]
	}
	txs := [][]byte{
		[]byte(fmt.Sprintf("round=%d generator=%s", params.Round, hex.EncodeToString(gen))),
	}
	return txs, saconsensus.VerificationOutput{StateRoot: nextRoot(o.root, txs)}, nil
}

func (o *Operations) Accept(
	_ context.Context, _ saconsensus.CallParams, txs [][]byte,
) (saconsensus.VerificationOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.root = nextRoot(o.root, txs)
	o.accepted = append(o.accepted, txs)
	return saconsensus.VerificationOutput{StateRoot: o.root}, nil
}

func (o *Operations) Finalize(
	_ context.Context, _ saconsensus.CallParams, _ [][]byte,
) (saconsensus.VerificationOutput, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finalized++
	return saconsensus.VerificationOutput{StateRoot: o.root}, nil
}

func (o *Operations) GetStateRoot(context.Context) (saconsensus.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.root, nil
}

// Accepted returns the transaction lists accepted so far, in order.
func (o *Operations) Accepted() [][][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][][]byte(nil), o.accepted...)
}

// Finalized returns the number of Finalize calls.
func (o *Operations) Finalized() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalized
}

func nextRoot(prev saconsensus.Hash, txs [][]byte) saconsensus.Hash {
	txRoot := saconsensus.TxRoot(txs)

	w := sha3.New256()
	_, _ = w.Write(prev[:])
	_, _ = w.Write(txRoot[:])

	var out saconsensus.Hash
	w.Sum(out[:0])
	return out
}
