// Package saengine drives the stake-weighted agreement protocol one round at a time.
//
// An [Engine] is built with [New] and a set of [Opt] values.
// Each call to [Engine.RunRound] runs the phase machine
// (Selection, first Reduction, second Reduction per iteration)
// alongside the agreement task, until the round is decided
// or the last step passes without a winner.
//
// The engine reads peer messages from, and broadcasts through,
// the [sap2p.Queues] given with [WithQueues].
// Messages for later rounds are held until that round runs.
package saengine
