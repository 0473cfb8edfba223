package sacodec

import (
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

const (
	pubKeySize = gblsminsig.PubKeySize
	sigSize    = gblsminsig.SignatureSize

	// HeaderSize is the length of the fixed message header.
	HeaderSize = pubKeySize + 8 + 1 + saconsensus.HashSize + 1

	// MaxTxs bounds the transaction count of a decoded block.
	MaxTxs = 1 << 16

	// MaxTxSize bounds a single decoded transaction.
	MaxTxSize = 1 << 20
)

// EncodeMessage returns the wire form of m.
// The header topic is written from the payload variant,
// so the encoding always satisfies the topic invariant.
func EncodeMessage(m saconsensus.Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("cannot encode message without payload")
	}

	w := &writer{b: make([]byte, 0, HeaderSize+2*sigSize+32)}

	h := m.Header
	if err := w.fixed(h.PubKeyBLS, pubKeySize, "public key"); err != nil {
		return nil, err
	}
	w.u64(h.Round)
	w.u8(h.Step)
	w.raw(h.BlockHash[:])
	w.u8(uint8(m.Payload.Topic()))

	var err error
	switch p := m.Payload.(type) {
	case saconsensus.Reduction:
		err = w.fixed(p.Signature, sigSize, "signature")
	case saconsensus.NewBlock:
		if err = w.fixed(p.Signature, sigSize, "signature"); err == nil {
			err = writeBlock(w, p.Candidate)
		}
	case saconsensus.Agreement:
		err = writeAgreement(w, p)
	case saconsensus.AggrAgreement:
		if err = writeAgreement(w, p.Agreement); err == nil {
			w.u64(p.Bitset)
			err = w.fixed(p.AggregateSignature, sigSize, "aggregate signature")
		}
	case saconsensus.Candidate:
		err = writeBlock(w, p.Block)
	case saconsensus.Unknown:
		err = fmt.Errorf("%w: cannot encode unknown payload", saconsensus.ErrInvalidMsgType)
	default:
		err = fmt.Errorf("%w: unhandled payload type %T", saconsensus.ErrInvalidMsgType, p)
	}
	if err != nil {
		return nil, err
	}

	return w.b, nil
}

// DecodeMessage parses the wire form produced by [EncodeMessage].
// Trailing bytes after a known payload are an error;
// the body of an unknown topic is ignored.
func DecodeMessage(b []byte) (saconsensus.Message, error) {
	r := &reader{b: b}

	var h saconsensus.Header
	var err error
	if h.PubKeyBLS, err = r.copyN(pubKeySize); err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to read public key: %w", err)
	}
	if h.Round, err = r.u64(); err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to read round: %w", err)
	}
	if h.Step, err = r.u8(); err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to read step: %w", err)
	}
	if err := readHash(r, &h.BlockHash); err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to read block hash: %w", err)
	}
	tb, err := r.u8()
	if err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to read topic: %w", err)
	}
	h.Topic = saconsensus.TopicFromByte(tb)

	var p saconsensus.Payload
	switch h.Topic {
	case saconsensus.TopicReduction:
		var red saconsensus.Reduction
		red.Signature, err = r.copyN(sigSize)
		p = red
	case saconsensus.TopicNewBlock:
		var nb saconsensus.NewBlock
		if nb.Signature, err = r.copyN(sigSize); err == nil {
			nb.Candidate, err = readBlock(r)
		}
		p = nb
	case saconsensus.TopicAgreement:
		p, err = readAgreement(r)
	case saconsensus.TopicAggrAgreement:
		var aa saconsensus.AggrAgreement
		if aa.Agreement, err = readAgreement(r); err == nil {
			if aa.Bitset, err = r.u64(); err == nil {
				aa.AggregateSignature, err = r.fixedOrNil(sigSize)
			}
		}
		p = aa
	case saconsensus.TopicCandidate:
		var c saconsensus.Candidate
		c.Block, err = readBlock(r)
		p = c
	default:
		return saconsensus.NewMessage(h, saconsensus.Unknown{}), nil
	}
	if err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to decode %s payload: %w", h.Topic, err)
	}
	if len(r.b) != 0 {
		return saconsensus.Message{}, fmt.Errorf("%d trailing bytes after %s payload", len(r.b), h.Topic)
	}

	return saconsensus.Message{Header: h, Payload: p}, nil
}

func writeStepVotes(w *writer, sv saconsensus.StepVotes) error {
	w.u64(sv.Bitset)
	return w.fixed(sv.AggregateSignature, sigSize, "step votes signature")
}

func readStepVotes(r *reader) (saconsensus.StepVotes, error) {
	var sv saconsensus.StepVotes
	var err error
	if sv.Bitset, err = r.u64(); err != nil {
		return sv, err
	}
	sv.AggregateSignature, err = r.fixedOrNil(sigSize)
	return sv, err
}

func writeAgreement(w *writer, a saconsensus.Agreement) error {
	if err := w.fixed(a.Signature, sigSize, "signature"); err != nil {
		return err
	}
	if err := writeStepVotes(w, a.FirstReduction); err != nil {
		return err
	}
	return writeStepVotes(w, a.SecondReduction)
}

func readAgreement(r *reader) (saconsensus.Agreement, error) {
	var a saconsensus.Agreement
	var err error
	if a.Signature, err = r.copyN(sigSize); err != nil {
		return a, err
	}
	if a.FirstReduction, err = readStepVotes(r); err != nil {
		return a, err
	}
	a.SecondReduction, err = readStepVotes(r)
	return a, err
}
