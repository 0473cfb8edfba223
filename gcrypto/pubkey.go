package gcrypto

import "context"

// PubKey is the public half of a signing key pair.
type PubKey interface {
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool
}

// Signer produces signatures that can be verified by the PubKey it returns.
type Signer interface {
	PubKey() PubKey

	Sign(ctx context.Context, input []byte) ([]byte, error)
}
