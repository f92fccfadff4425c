package responder

// identityHeader is prepended to every generation instruction.
// %[1]s is the speaker's name.
const identityHeader = "Your name is %[1]s. Messages from other people are prefixed with their name followed by \" : \". " +
	"Your own previous messages are shown without a prefix. Never prefix your reply with your name.\n\n"

// validationPrompt is the single user message of the validation stage.
// %[1]s is the transcript, %[2]s the generation instruction, %[3]s the candidate reply.
const validationPrompt = `Here is the conversation:
%[1]s

Here are the instructions the bot was given:
%[2]s

Here is the reply the bot wants to send:
%[3]s`
