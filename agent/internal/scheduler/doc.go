// Package scheduler drives every target's probe on its own fixed-rate loop
// and records each tick's outcome in the store.
//
// Ticks are anchored to the schedule, not to probe completion: the next tick
// is due one interval after the previous one was due. A tick that runs past
// its successor's due time causes the successor to fire immediately and the
// schedule to re-anchor there; the late tick is counted as an overrun.
//
// A failing or hanging target only delays its own loop.
package scheduler
