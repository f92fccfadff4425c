package adventure

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned for any phase change not listed in transitions.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase is the stage a dialogue session is in.
type Phase int

const (
	// CreatingCharacter negotiates the player's character with the model.
	CreatingCharacter Phase = iota
	// Introducing writes the opening scene.
	Introducing
	// Playing is free play. It is terminal.
	Playing
)

var phaseNames = map[Phase]string{
	CreatingCharacter: "creating_character",
	Introducing:       "introducing",
	Playing:           "playing",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// transitions lists every allowed phase change. Progress is strictly forward.
var transitions = map[Phase][]Phase{
	CreatingCharacter: {Introducing},
	Introducing:       {Playing},
	Playing:           {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no transition leaves p.
func (p Phase) IsTerminal() bool {
	return len(transitions[p]) == 0
}
