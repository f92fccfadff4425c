// Package config manages application configuration from a YAML file,
// OMEGA_* environment variables and default values.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every error returned by LoadConfig.
var ErrConfiguration = errors.New("configuration error")

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Bot       BotConfig       `mapstructure:"bot"`
	AI        AIConfig        `mapstructure:"ai"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Responder ResponderConfig `mapstructure:"responder"`
	NPCs      []NPCConfig     `mapstructure:"npcs"      validate:"dive"`
	Adventure AdventureConfig `mapstructure:"adventure"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// BotConfig holds the bot's identity as it appears in prompts.
type BotConfig struct {
	Name string `mapstructure:"name" validate:"required"`
}

// AIConfig selects and tunes the language model backend.
type AIConfig struct {
	Provider          string        `mapstructure:"provider"            validate:"required,oneof=gemini openai"`
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	BaseURL           string        `mapstructure:"base_url"            validate:"omitempty,url"`
	Model             string        `mapstructure:"model"               validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=10m"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"         validate:"min=0,max=1m"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"min=0"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the backend.
// MaxFailures of zero disables it.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" validate:"min=0"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"min=0"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"   validate:"required_if=Enabled true"`
	// GuildIDs restricts slash command registration. Empty registers globally.
	GuildIDs []string `mapstructure:"guild_ids"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	Token    string           `mapstructure:"token"    validate:"required_if=Enabled true"`
	Messages TelegramMessages `mapstructure:"messages"`
}

// TelegramMessages are the fixed replies of the informational commands.
type TelegramMessages struct {
	Welcome string `mapstructure:"welcome" validate:"required"`
	Help    string `mapstructure:"help"    validate:"required"`
}

// DatabaseConfig locates the SQLite store used by the Telegram adapter.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
	// Retention bounds how long messages of non-session chats are kept.
	// Session topics keep their full history for replay.
	Retention time.Duration `mapstructure:"retention" validate:"min=1h"`
}

// ResponderConfig configures the debounced group responder.
type ResponderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	QuietPeriod time.Duration `mapstructure:"quiet_period" validate:"min=10ms"`
	MaxAge      time.Duration `mapstructure:"max_age"      validate:"gtfield=QuietPeriod"`
	// Channels restricts the responder to these surface ids or names. Empty allows all.
	Channels             []string `mapstructure:"channels"`
	Instruction          string   `mapstructure:"instruction"           validate:"required"`
	ValidatorInstruction string   `mapstructure:"validator_instruction" validate:"required"`
	Affirmative          string   `mapstructure:"affirmative"           validate:"required"`
}

// NPCConfig binds a persona to every channel with a given name.
type NPCConfig struct {
	Channel string `mapstructure:"channel" validate:"required"`
	// Name is the persona's name in prompts. Empty uses the bot name.
	Name        string `mapstructure:"name"`
	Instruction string `mapstructure:"instruction" validate:"required"`
}

// AdventureConfig configures dialogue sessions.
type AdventureConfig struct {
	Command                 string   `mapstructure:"command"                  validate:"required,max=32"`
	CommandDescription      string   `mapstructure:"command_description"      validate:"required,max=100"`
	SurfaceName             string   `mapstructure:"surface_name"             validate:"required"`
	CommandReply            string   `mapstructure:"command_reply"            validate:"required"`
	Welcome                 []string `mapstructure:"welcome"                  validate:"dive,required"`
	CharacterReady          string   `mapstructure:"character_ready"          validate:"required"`
	CreationInstruction     string   `mapstructure:"creation_instruction"     validate:"required"`
	IntroductionInstruction string   `mapstructure:"introduction_instruction" validate:"required"`
	PlayInstruction         string   `mapstructure:"play_instruction"         validate:"required"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task on a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
