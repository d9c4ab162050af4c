package domain

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the assistant, including error replies.
	RoleAssistant Role = "assistant"
)

var errInvalidRole = errors.New("invalid turn role")

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one recorded message. Turns are values and are never mutated
// after they are created.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(role Role, text string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", errInvalidRole, role)
	}
	return Turn{Role: role, Text: text, Timestamp: time.Now().UTC()}, nil
}

// UserTurn is shorthand for a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// AssistantTurn is shorthand for an assistant turn.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text, Timestamp: time.Now().UTC()}
}

// CloneTurns returns a copy of turns that shares no backing array with the input.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
