package provider

import "strings"

// State is the lifecycle state of a version.
//
//	ENABLED ⇄ DISABLED → DESTROYED
//	   └──────────────────↗
//
// DESTROYED is terminal. New versions start ENABLED.
type State string

const (
	StateEnabled   State = "ENABLED"
	StateDisabled  State = "DISABLED"
	StateDestroyed State = "DESTROYED"
)

// ParseState accepts the canonical names case-insensitively.
func ParseState(s string) (State, bool) {
	switch st := State(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateEnabled, StateDisabled, StateDestroyed:
		return st, true
	default:
		return "", false
	}
}

// Valid reports whether s is one of the three known states.
func (s State) Valid() bool {
	switch s {
	case StateEnabled, StateDisabled, StateDestroyed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool {
	return s == StateDestroyed
}

// CanTransition reports whether moving a version from one state to another
// is legal. A same-state move is legal for ENABLED and DISABLED and is a
// no-op at the store.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return !from.Terminal()
}
