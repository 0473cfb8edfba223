package gblsminsig

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// AggregatePubKeys returns the single key
// that verifies an aggregate of signatures from every key in keys
// over one common message.
//
// Keys are assumed to have passed proof-of-possession when they were bonded,
// so rogue-key aggregation is not considered here.
func AggregatePubKeys(keys []PubKey) (PubKey, error) {
	if len(keys) == 0 {
		return PubKey{}, errors.New("no keys to aggregate")
	}

	acc := new(blst.P2)
	for i := range keys {
		k := blst.P2Affine(keys[i])
		acc = acc.Add(&k)
	}

	return PubKey(*acc.ToAffine()), nil
}

// AggregateSignatures combines compressed signatures into one compressed signature.
// Every input signature is group-checked.
func AggregateSignatures(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}

	agg := new(blst.P1Aggregate)
	if !agg.AggregateCompressed(sigs, true) {
		return nil, errors.New("failed to aggregate signatures")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregate reports whether sig is a valid aggregate signature
// over msg from exactly the given keys.
func VerifyAggregate(keys []PubKey, msg, sig []byte) bool {
	aggKey, err := AggregatePubKeys(keys)
	if err != nil {
		return false
	}

	return aggKey.Verify(msg, sig)
}
