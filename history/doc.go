// Package history assembles the model context of a turn.
//
// The context always starts with exactly one system message rendered from an
// Instruction, the current time and the bound tools, followed by recent
// history from a Provider and the new input, with trace messages removed and
// duplicates dropped (see Dedupe).
package history
