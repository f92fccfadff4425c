// Package metadata encodes the session record stored in a surface's metadata
// string. The record is the only durable session state: everything else is
// rebuilt from the surface history on restart.
package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edgard/omega/internal/chat"
)

const (
	// KindAdventure marks a surface as a dialogue session surface.
	KindAdventure = "adventure"
	// CurrentVersion is the only record version this build reads and writes.
	CurrentVersion = 1
)

// ErrNotSession is returned by Decode when the metadata does not describe a
// session: it is empty, malformed, of another kind or of an unsupported version.
var ErrNotSession = errors.New("metadata does not describe a session")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Record is the persisted part of a dialogue session.
type Record struct {
	Kind                 string         `yaml:"kind"                            validate:"required,eq=adventure"`
	Version              int            `yaml:"version"                         validate:"eq=1"`
	OwnerID              chat.UserID    `yaml:"owner_id"                        validate:"required"`
	CharacterDescription *string        `yaml:"character_description,omitempty"`
	AnchorMessageID      chat.MessageID `yaml:"anchor_message_id,omitempty"`
}

// New returns the record written when a session surface is created.
func New(owner chat.UserID) Record {
	return Record{Kind: KindAdventure, Version: CurrentVersion, OwnerID: owner}
}

// HasCharacter reports whether character creation has completed.
func (r Record) HasCharacter() bool {
	return r.CharacterDescription != nil
}

// WithCharacter returns a copy of r carrying description and anchored at anchor.
func (r Record) WithCharacter(description string, anchor chat.MessageID) Record {
	d := description
	r.CharacterDescription = &d
	r.AnchorMessageID = anchor
	return r
}

// Equal reports whether two records would encode identically.
func (r Record) Equal(o Record) bool {
	if r.Kind != o.Kind || r.Version != o.Version || r.OwnerID != o.OwnerID || r.AnchorMessageID != o.AnchorMessageID {
		return false
	}
	if (r.CharacterDescription == nil) != (o.CharacterDescription == nil) {
		return false
	}
	return r.CharacterDescription == nil || *r.CharacterDescription == *o.CharacterDescription
}

// Encode serializes r. Invalid records are rejected so that nothing written
// by the bot fails to decode later.
func Encode(r Record) (string, error) {
	if err := validate.Struct(r); err != nil {
		return "", fmt.Errorf("invalid session metadata: %w", err)
	}
	out, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	return string(out), nil
}

// Decode parses a metadata string. Any failure is reported as ErrNotSession.
func Decode(s string) (Record, error) {
	if strings.TrimSpace(s) == "" {
		return Record{}, fmt.Errorf("%w: empty", ErrNotSession)
	}

	var r Record
	if err := yaml.Unmarshal([]byte(s), &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotSession, err)
	}
	if err := validate.Struct(r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotSession, err)
	}
	return r, nil
}
