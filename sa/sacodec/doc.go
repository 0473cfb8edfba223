// Package sacodec is the binary wire format for consensus messages and blocks.
//
// Every message starts with the fixed header
//
//	pubkey (96 bytes) || round (LE u64) || step (u8) || block_hash (32 bytes) || topic (u8)
//
// followed by the topic-specific payload.
// Integers are little endian throughout.
// Messages with an unrecognized topic decode successfully
// with a [saconsensus.Unknown] payload, so that newer peers can introduce topics.
package sacodec
