// Package saphase runs the per-round phase state machine:
// Selection, then the first and second Reduction, for each iteration of a round.
//
// Each step is driven by a [MsgHandler],
// which applies the message life-cycle (timing check, committee membership,
// phase-specific verification, then collection) to every message for that step.
// Reduction outcomes are merged per iteration by [RoundCtx],
// which mints the local Agreement consumed by the agreement task.
package saphase
