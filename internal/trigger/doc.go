// Package trigger sequences the prop. The Controller follows one of three
// policies (START, TIMER, PIR), loops ambient tracks while it waits, interrupts
// them when the trigger fires and runs a vocal session with the eyes lit and an
// optional trigger-out pulse.
//
// The decision to leave ambient playback is carried by a single flag set by the
// polling goroutine and consumed with a compare-and-swap, so each trigger yields
// at most one vocal session.
package trigger
