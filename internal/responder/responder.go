// Package responder decides when the bot speaks in open group channels. Each
// channel gets a Responder that buffers recent messages and, once the channel
// has been quiet for a while, asks the model for a reply and for a second
// opinion on whether that reply should be sent at all.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/omega/internal/chat"
	"github.com/edgard/omega/internal/llm"
	"github.com/edgard/omega/internal/text"
)

// Profile is what a Responder says and whether its replies are validated.
type Profile struct {
	// Speaker is the name the model speaks as and is labelled with in transcripts.
	Speaker     string
	Instruction string
	// ValidatorInstruction enables the validation stage when non-empty.
	ValidatorInstruction string
	// Affirmative is the validator answer that accepts a reply.
	Affirmative string
}

// Timing controls debouncing and buffer retention.
type Timing struct {
	QuietPeriod time.Duration
	MaxAge      time.Duration
}

// Responder owns the buffer and debounce timer of a single channel.
type Responder struct {
	surface chat.SurfaceID
	profile Profile
	timing  Timing
	gateway llm.Gateway
	sender  chat.Sender
	clock   clockwork.Clock
	log     *slog.Logger
	ctx     context.Context

	mu       sync.Mutex
	buffer   []chat.Message
	timer    clockwork.Timer
	gen      uint64
	pending  bool
	lastSeen time.Time
	stopped  bool

	// evalMu serializes evaluations of this channel.
	evalMu sync.Mutex
}

// New returns a Responder for surface. Evaluations run with ctx and stop once
// it is cancelled.
func New(
	ctx context.Context,
	surface chat.SurfaceID,
	profile Profile,
	timing Timing,
	gateway llm.Gateway,
	sender chat.Sender,
	clock clockwork.Clock,
	log *slog.Logger,
) *Responder {
	return &Responder{
		surface:  surface,
		profile:  profile,
		timing:   timing,
		gateway:  gateway,
		sender:   sender,
		clock:    clock,
		log:      log.With("component", "responder", "surface", string(surface), "speaker", profile.Speaker),
		ctx:      ctx,
		lastSeen: clock.Now(),
	}
}

// OnMessage buffers m. Messages from anyone but the bot restart the quiet
// period; the bot's own messages are kept for context only.
func (r *Responder) OnMessage(m chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.buffer = append(r.buffer, m)
	r.lastSeen = r.clock.Now()
	if m.IsSelf {
		return
	}

	r.gen++
	gen := r.gen
	if r.timer != nil {
		r.timer.Stop()
	}
	r.pending = true
	r.timer = r.clock.AfterFunc(r.timing.QuietPeriod, func() { r.fire(gen) })
}

func (r *Responder) fire(gen uint64) {
	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.pruneLocked(r.clock.Now())
	snapshot := make([]chat.Message, len(r.buffer))
	copy(snapshot, r.buffer)
	r.mu.Unlock()

	if r.ctx.Err() != nil || len(snapshot) == 0 {
		return
	}
	r.evaluate(r.ctx, snapshot)
}

func (r *Responder) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.timing.MaxAge)
	keep := r.buffer[:0]
	for _, m := range r.buffer {
		if !m.CreatedAt.Before(cutoff) {
			keep = append(keep, m)
		}
	}
	clear(r.buffer[len(keep):])
	r.buffer = keep
}

func (r *Responder) evaluate(ctx context.Context, snapshot []chat.Message) {
	start := r.clock.Now()
	transcript := r.transcript(snapshot)

	instruction := fmt.Sprintf(identityHeader, r.profile.Speaker) + r.profile.Instruction
	msgs := make([]llm.Message, 0, len(transcript)+1)
	msgs = append(msgs, llm.System(instruction))
	msgs = append(msgs, transcript...)

	res, err := r.gateway.Generate(ctx, llm.Request{Messages: msgs})
	if err != nil {
		r.log.ErrorContext(ctx, "Reply generation failed", "error", err)
		return
	}
	candidate := text.CleanReply(res.Text, r.profile.Speaker)
	if candidate == "" {
		r.log.DebugContext(ctx, "Model produced no reply")
		return
	}

	if r.profile.ValidatorInstruction != "" {
		ok, err := r.validate(ctx, snapshot, candidate)
		if err != nil {
			r.log.WarnContext(ctx, "Reply validation failed, staying silent", "error", err)
			return
		}
		if !ok {
			r.log.DebugContext(ctx, "Reply rejected by validator")
			return
		}
	}

	segments := text.SplitParagraphs(candidate)
	for _, seg := range segments {
		if err := r.sender.SendText(ctx, r.surface, seg); err != nil {
			r.log.ErrorContext(ctx, "Failed to send reply segment", "error", err)
			return
		}
	}
	r.log.InfoContext(ctx, "Reply sent", "segments", len(segments), "buffered", len(snapshot), "duration_ms", r.clock.Since(start).Milliseconds())
}

func (r *Responder) transcript(snapshot []chat.Message) []llm.Message {
	out := make([]llm.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if m.IsSelf {
			out = append(out, llm.Assistant(m.Content))
			continue
		}
		out = append(out, llm.User(m.AuthorName, text.ReplaceMentions(m.Content, m.Participants)))
	}
	return out
}

func (r *Responder) validate(ctx context.Context, snapshot []chat.Message, candidate string) (bool, error) {
	var sb strings.Builder
	for i, m := range snapshot {
		if i > 0 {
			sb.WriteByte('\n')
		}
		name := m.AuthorName
		content := text.ReplaceMentions(m.Content, m.Participants)
		if m.IsSelf {
			name = r.profile.Speaker
			content = m.Content
		}
		sb.WriteString(name)
		sb.WriteString(" : ")
		sb.WriteString(content)
	}

	prompt := fmt.Sprintf(validationPrompt, sb.String(), r.profile.Instruction, candidate)
	res, err := r.gateway.Generate(ctx, llm.Request{Messages: []llm.Message{
		llm.System(r.profile.ValidatorInstruction),
		llm.User("", prompt),
	}})
	if err != nil {
		return false, err
	}

	answer := strings.TrimSpace(res.Text)
	return strings.EqualFold(answer, r.profile.Affirmative), nil
}

// Buffered returns a copy of the current buffer.
func (r *Responder) Buffered() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Message, len(r.buffer))
	copy(out, r.buffer)
	return out
}

// sweep prunes expired messages and reports whether the responder holds
// nothing and has been idle since before idleSince.
func (r *Responder) sweep(now, idleSince time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	return len(r.buffer) == 0 && !r.pending && r.lastSeen.Before(idleSince)
}

// Stop cancels the pending timer. Buffered messages are discarded.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.buffer = nil
}
