package models

import "fmt"

// RoundPhase is the explicit lifecycle of the current round of an auction.
//
//	open -> closing -> settled -> advancing -> (next round) open
//
// closing -> open is only used to roll back a close whose durable update failed.
type RoundPhase string

const (
	PhaseOpen      RoundPhase = "open"
	PhaseClosing   RoundPhase = "closing"
	PhaseSettled   RoundPhase = "settled"
	PhaseAdvancing RoundPhase = "advancing"
)

var phaseTransitions = map[RoundPhase][]RoundPhase{
	PhaseOpen:      {PhaseClosing},
	PhaseClosing:   {PhaseSettled, PhaseOpen},
	PhaseSettled:   {PhaseAdvancing},
	PhaseAdvancing: {},
}

// Valid reports whether p is a known phase
func (p RoundPhase) Valid() bool {
	_, ok := phaseTransitions[p]
	return ok
}

// CanTransitionTo reports whether moving from p to next is allowed
func (p RoundPhase) CanTransitionTo(next RoundPhase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error describing a forbidden transition
func (p RoundPhase) ValidateTransition(next RoundPhase) error {
	if !p.CanTransitionTo(next) {
		return fmt.Errorf("round phase %q cannot move to %q", p, next)
	}
	return nil
}
