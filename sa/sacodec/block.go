package sacodec

import (
	"fmt"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// EncodeBlock returns the wire form of b, including any attestation.
func EncodeBlock(b saconsensus.Block) ([]byte, error) {
	w := &writer{}
	if err := writeBlock(w, b); err != nil {
		return nil, err
	}
	return w.b, nil
}

// DecodeBlock parses the output of [EncodeBlock].
func DecodeBlock(in []byte) (saconsensus.Block, error) {
	r := &reader{b: in}
	b, err := readBlock(r)
	if err != nil {
		return saconsensus.Block{}, err
	}
	if len(r.b) != 0 {
		return saconsensus.Block{}, fmt.Errorf("%d trailing bytes after block", len(r.b))
	}
	return b, nil
}

// EncodeIterationsInfo returns the wire form of info.
// Nil entries are kept in place.
func EncodeIterationsInfo(info saconsensus.IterationsInfo) ([]byte, error) {
	w := &writer{}
	if err := writeIterationsInfo(w, info); err != nil {
		return nil, err
	}
	return w.b, nil
}

// DecodeIterationsInfo parses the output of [EncodeIterationsInfo].
func DecodeIterationsInfo(in []byte) (saconsensus.IterationsInfo, error) {
	r := &reader{b: in}
	info, err := readIterationsInfo(r)
	if err != nil {
		return saconsensus.IterationsInfo{}, err
	}
	if len(r.b) != 0 {
		return saconsensus.IterationsInfo{}, fmt.Errorf("%d trailing bytes after iterations info", len(r.b))
	}
	return info, nil
}

func writeBlock(w *writer, b saconsensus.Block) error {
	h := b.Header
	w.u8(h.Version)
	w.u64(h.Height)
	w.u64(uint64(h.Timestamp))
	w.raw(h.PrevBlockHash[:])
	if err := w.bytes16(h.Seed, "seed"); err != nil {
		return err
	}
	w.raw(h.StateHash[:])
	if err := w.bytes16(h.GeneratorPubKey, "generator key"); err != nil {
		return err
	}
	w.u8(h.Iteration)
	w.raw(h.TxRoot[:])
	if err := writeIterationsInfo(w, h.FailedIterations); err != nil {
		return err
	}

	if len(b.Txs) > MaxTxs {
		return fmt.Errorf("too many transactions: %d", len(b.Txs))
	}
	w.u32(uint32(len(b.Txs)))
	for i, tx := range b.Txs {
		if len(tx) > MaxTxSize {
			return fmt.Errorf("transaction %d too large: %d bytes", i, len(tx))
		}
		w.u32(uint32(len(tx)))
		w.raw(tx)
	}

	if b.Attestation == nil {
		w.u8(0)
		return nil
	}
	w.u8(1)
	if err := writeStepVotes(w, b.Attestation.FirstReduction); err != nil {
		return err
	}
	return writeStepVotes(w, b.Attestation.SecondReduction)
}

func readBlock(r *reader) (saconsensus.Block, error) {
	var b saconsensus.Block
	h := &b.Header
	var err error

	if h.Version, err = r.u8(); err != nil {
		return b, err
	}
	if h.Height, err = r.u64(); err != nil {
		return b, err
	}
	ts, err := r.u64()
	if err != nil {
		return b, err
	}
	h.Timestamp = int64(ts)
	if err := readHash(r, &h.PrevBlockHash); err != nil {
		return b, err
	}
	if h.Seed, err = r.bytes16(); err != nil {
		return b, err
	}
	if err := readHash(r, &h.StateHash); err != nil {
		return b, err
	}
	if h.GeneratorPubKey, err = r.bytes16(); err != nil {
		return b, err
	}
	if h.Iteration, err = r.u8(); err != nil {
		return b, err
	}
	if err := readHash(r, &h.TxRoot); err != nil {
		return b, err
	}
	if h.FailedIterations, err = readIterationsInfo(r); err != nil {
		return b, err
	}

	nTxs, err := r.u32()
	if err != nil {
		return b, err
	}
	if nTxs > MaxTxs {
		return b, fmt.Errorf("too many transactions: %d", nTxs)
	}
	// Each transaction carries at least its 4-byte length prefix.
	if int(nTxs)*4 > len(r.b) {
		return b, fmt.Errorf("%w: %d transactions exceed remaining %d bytes", errShort, nTxs, len(r.b))
	}
	if nTxs > 0 {
		b.Txs = make([][]byte, nTxs)
	}
	for i := range b.Txs {
		n, err := r.u32()
		if err != nil {
			return b, err
		}
		if n > MaxTxSize {
			return b, fmt.Errorf("transaction %d too large: %d bytes", i, n)
		}
		if b.Txs[i], err = r.copyN(int(n)); err != nil {
			return b, err
		}
	}

	hasAtt, err := r.u8()
	if err != nil {
		return b, err
	}
	switch hasAtt {
	case 0:
	case 1:
		att := new(saconsensus.Attestation)
		if att.FirstReduction, err = readStepVotes(r); err != nil {
			return b, err
		}
		if att.SecondReduction, err = readStepVotes(r); err != nil {
			return b, err
		}
		b.Attestation = att
	default:
		return b, fmt.Errorf("invalid attestation marker %d", hasAtt)
	}

	return b, nil
}

func writeIterationsInfo(w *writer, info saconsensus.IterationsInfo) error {
	if len(info.Attestations) > int(saconsensus.MaxIterations) {
		return fmt.Errorf("too many iteration entries: %d", len(info.Attestations))
	}
	w.u8(uint8(len(info.Attestations)))
	for _, a := range info.Attestations {
		if a == nil {
			w.u8(0)
			continue
		}
		w.u8(1)
		w.raw(a.BlockHash[:])
		if err := writeStepVotes(w, a.FirstReduction); err != nil {
			return err
		}
		if err := writeStepVotes(w, a.SecondReduction); err != nil {
			return err
		}
	}
	return nil
}

func readIterationsInfo(r *reader) (saconsensus.IterationsInfo, error) {
	var info saconsensus.IterationsInfo
	n, err := r.u8()
	if err != nil {
		return info, err
	}
	if n > saconsensus.MaxIterations {
		return info, fmt.Errorf("too many iteration entries: %d", n)
	}
	if n == 0 {
		return info, nil
	}

	info.Attestations = make([]*saconsensus.IterationAttestation, n)
	for i := range info.Attestations {
		present, err := r.u8()
		if err != nil {
			return info, err
		}
		switch present {
		case 0:
			continue
		case 1:
		default:
			return info, fmt.Errorf("invalid iteration marker %d at %d", present, i)
		}

		a := new(saconsensus.IterationAttestation)
		if err := readHash(r, &a.BlockHash); err != nil {
			return info, err
		}
		if a.FirstReduction, err = readStepVotes(r); err != nil {
			return info, err
		}
		if a.SecondReduction, err = readStepVotes(r); err != nil {
			return info, err
		}
		info.Attestations[i] = a
	}
	return info, nil
}

func readHash(r *reader, dst *saconsensus.Hash) error {
	b, err := r.take(saconsensus.HashSize)
	if err != nil {
		return err
	}
	*dst, err = saconsensus.HashFromBytes(b)
	return err
}
