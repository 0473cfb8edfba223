// Package gcrypto contains the key abstractions shared by the consensus engine.
//
// The concrete implementation used by the engine lives in
// [github.com/gordian-engine/gsa/gcrypto/gblsminsig].
package gcrypto
