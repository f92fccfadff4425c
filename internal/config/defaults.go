package config

import "time"

const (
	defaultAITimeout   = 2 * time.Minute
	defaultQuietPeriod = 5 * time.Second
	defaultMaxAge      = 24 * time.Hour
)

const defaultResponderInstruction = `You are a regular member of a group chat.
Read the conversation and write the next message you would send, in the language of the conversation.
Keep it short and natural. Do not prefix your reply with your name.`

const defaultValidatorInstruction = `You moderate the messages of a chat bot.
You will receive a conversation, the instructions the bot was given, and the reply it wants to send.
Answer with a single word: "yes" if the reply is appropriate and relevant right now, "no" otherwise.`

const defaultCreationInstruction = `You are the game master of a text role-playing adventure.
Help the player create their character by asking about their name, appearance, background and abilities.
When you know enough, call the create_character tool with a complete description of the character.`

const defaultIntroductionInstruction = `You are the game master of a text role-playing adventure.
The player's character is described below. Write the opening scene of the adventure for this character,
in a few short paragraphs separated by blank lines, and end by asking the player what they do.`

const defaultPlayInstruction = `You are the game master of a text role-playing adventure.
The player's character is described below. Continue the story according to the player's actions.
Describe outcomes fairly, keep the world consistent, and end each reply with a prompt for the player.`

// defaults holds the value of every optional key. Keys missing here cannot be
// overridden from the environment, since viper only binds known keys.
var defaults = map[string]any{
	"log.level": "info",
	"log.json":  false,

	"bot.name": "Omega",

	"ai.provider":             "gemini",
	"ai.api_key":              "",
	"ai.base_url":             "",
	"ai.model":                "gemini-2.0-flash",
	"ai.temperature":          1.0,
	"ai.timeout":              defaultAITimeout,
	"ai.max_retries":          2,
	"ai.retry_delay":          2 * time.Second,
	"ai.requests_per_minute":  0,
	"ai.breaker.max_failures": 5,
	"ai.breaker.open_timeout": time.Minute,

	"discord.enabled":   false,
	"discord.token":     "",
	"discord.guild_ids": []string{},

	"telegram.enabled":          false,
	"telegram.token":            "",
	"telegram.messages.welcome": "Hello! Talk in this group and I will join in when I have something to say. Use /start_adventure to begin a role-playing adventure.",
	"telegram.messages.help":    "/start_adventure opens a private adventure topic for you. Starting a new one replaces your current adventure.",

	"database.path":      "omega.db",
	"database.retention": 7 * 24 * time.Hour,

	"responder.enabled":               true,
	"responder.quiet_period":          defaultQuietPeriod,
	"responder.max_age":               defaultMaxAge,
	"responder.channels":              []string{},
	"responder.instruction":           defaultResponderInstruction,
	"responder.validator_instruction": defaultValidatorInstruction,
	"responder.affirmative":           "yes",

	"npcs": []map[string]any{},

	"adventure.command":                  "start-adventure",
	"adventure.command_description":      "Start a new adventure",
	"adventure.surface_name":             "the-great-adventure",
	"adventure.command_reply":            "Have a good adventure!",
	"adventure.welcome":                  []string{"Welcome, adventurer!", "Before we begin, tell me about the character you want to play."},
	"adventure.character_ready":          "Very well, your adventure can begin.",
	"adventure.creation_instruction":     defaultCreationInstruction,
	"adventure.introduction_instruction": defaultIntroductionInstruction,
	"adventure.play_instruction":         defaultPlayInstruction,

	"scheduler.tasks": map[string]any{
		"sql_maintenance": map[string]any{"enabled": true, "schedule": "0 4 * * *"},
		"responder_sweep": map[string]any{"enabled": true, "schedule": "*/30 * * * *"},
	},
}
