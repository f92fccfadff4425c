package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
)

// ErrNoPlatform is returned when neither chat platform is enabled.
var ErrNoPlatform = errors.New("at least one of discord or telegram must be enabled")

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !c.Discord.Enabled && !c.Telegram.Enabled {
		return ErrNoPlatform
	}

	seen := make(map[string]struct{}, len(c.NPCs))
	for _, npc := range c.NPCs {
		if _, dup := seen[npc.Channel]; dup {
			return fmt.Errorf("invalid configuration: duplicate npc channel %q", npc.Channel)
		}
		seen[npc.Channel] = struct{}{}
	}

	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
