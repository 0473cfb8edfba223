package saagreement

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Aggregate folds agreements for one (round, step, hash)
// into a single AggrAgreement sent by sender.
//
// The voters bitset is positional within c, the agreement committee,
// and the aggregate signature covers every given agreement's signature.
// The first agreement's reduction votes are carried as the embedded Agreement.
func Aggregate(
	c *saconsensus.Committee,
	sender []byte,
	agreements []saconsensus.Message,
) (saconsensus.Message, error) {
	if len(agreements) == 0 {
		return saconsensus.Message{}, errors.New("no agreements to aggregate")
	}

	first := agreements[0].Header
	voters := make([][]byte, 0, len(agreements))
	sigs := make([][]byte, 0, len(agreements))
	for i, m := range agreements {
		h := m.Header
		if h.Round != first.Round || h.Step != first.Step || h.BlockHash != first.BlockHash {
			return saconsensus.Message{}, fmt.Errorf("agreement %d is for a different round, step, or hash", i)
		}
		a, ok := m.Payload.(saconsensus.Agreement)
		if !ok {
			return saconsensus.Message{}, fmt.Errorf("%w: message %d is %s", saconsensus.ErrInvalidMsgType, i, h.Topic)
		}
		voters = append(voters, h.PubKeyBLS)
		sigs = append(sigs, a.Signature)
	}

	agg, err := gblsminsig.AggregateSignatures(sigs)
	if err != nil {
		return saconsensus.Message{}, fmt.Errorf("failed to aggregate agreement signatures: %w", err)
	}

	hdr := saconsensus.Header{
		PubKeyBLS: sender,
		Round:     first.Round,
		Step:      first.Step,
		BlockHash: first.BlockHash,
	}
	return saconsensus.NewMessage(hdr, saconsensus.AggrAgreement{
		Agreement:          agreements[0].Payload.(saconsensus.Agreement),
		Bitset:             c.Bits(voters),
		AggregateSignature: agg,
	}), nil
}
