package core

import (
	"errors"
	"fmt"
)

// ErrTurnLimitExceeded reports that a decision loop asked for one more model
// round than its budget holds.
var ErrTurnLimitExceeded = errors.New("reached maximum turn limit")

// TurnBudget counts the model rounds of a single decision loop. It is owned
// by one loop and not safe for concurrent use.
type TurnBudget struct {
	limit int
	used  int
}

// NewTurnBudget returns a budget of limit rounds. A limit <= 0 never runs out.
func NewTurnBudget(limit int) *TurnBudget {
	if limit < 0 {
		limit = 0
	}

	return &TurnBudget{limit: limit}
}

// Spend books the next round. The round that would exceed the limit is still
// counted and yields an error wrapping ErrTurnLimitExceeded.
func (b *TurnBudget) Spend() error {
	b.used++

	if b.limit > 0 && b.used > b.limit {
		return fmt.Errorf("%w (%d)", ErrTurnLimitExceeded, b.limit)
	}

	return nil
}

// Used is the number of rounds booked so far, including a rejected one.
func (b *TurnBudget) Used() int { return b.used }

// Limit is the configured bound; 0 means unbounded.
func (b *TurnBudget) Limit() int { return b.limit }

// Left reports the rounds still available. ok is false for an unbounded budget.
func (b *TurnBudget) Left() (left int, ok bool) {
	if b.limit == 0 {
		return 0, false
	}

	return max(b.limit-b.used, 0), true
}
