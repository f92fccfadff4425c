// Package llm is the single entry point to the language model. Callers build a
// Request from role-tagged messages and an optional structured tool, and get
// back either free text or the tool's arguments.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrGateway wraps every failure of a Generate call.
	ErrGateway = errors.New("language model gateway error")
	// ErrEmptyResponse is returned when the model produced neither text nor a tool call.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrBlocked is returned when the backend refused the prompt.
	ErrBlocked = errors.New("prompt blocked by backend")
)

// Role identifies the speaker of a message in a Request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a prompt.
type Message struct {
	Role    Role
	Name    string // author display name, user messages only
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message attributed to name.
func User(name, content string) Message { return Message{Role: RoleUser, Name: name, Content: content} }

// Assistant returns a message previously sent by the bot.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Text renders the message as the backend sees it. Author names are inlined
// because not every backend carries a per-message name.
func (m Message) Text() string {
	if m.Role == RoleUser && m.Name != "" {
		return fmt.Sprintf("%s : %s", m.Name, m.Content)
	}
	return m.Content
}

// Field is one string argument of a Tool.
type Field struct {
	Name        string
	Description string
}

// Tool is a structured output schema the model may choose to fill in.
// Every field is a required string.
type Tool struct {
	Name        string
	Description string
	Fields      []Field
}

// Request is a single model invocation.
type Request struct {
	Messages []Message
	Tool     *Tool
}

// Result is either Text or, when the model called the request's tool,
// Structured with one entry per tool field the model filled in.
type Result struct {
	Text       string
	Structured map[string]string
}

// IsStructured reports whether the model called the tool.
func (r Result) IsStructured() bool { return r.Structured != nil }

// Gateway generates model output. Implementations are safe for concurrent use.
type Gateway interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (Result, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

func wrap(backend string, err error) error {
	if errors.Is(err, ErrGateway) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrGateway, backend, err)
}

// splitSystem separates system messages, joined in order, from the conversation.
func splitSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func stringArgs(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
