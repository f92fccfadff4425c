package adventure

import "github.com/edgard/omega/internal/llm"

// characterTool is offered to the model during character creation. Calling it
// ends the creation phase.
var characterTool = &llm.Tool{
	Name:        "create_character",
	Description: "Create the player's character once its description is complete.",
	Fields: []llm.Field{
		{
			Name:        "character_description",
			Description: "Complete description of the character: name, appearance, background and abilities.",
		},
	},
}

const characterField = "character_description"

// characterSection is appended to instructions that need the character.
const characterSection = "\n\nThe player's character:\n"
