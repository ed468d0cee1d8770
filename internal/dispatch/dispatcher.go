// Package dispatch turns classified webhook events into memory writes,
// generated replies and speech.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JasonGordonD/anna-agent-c/internal/calllog"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
	"github.com/JasonGordonD/anna-agent-c/internal/prompt"
	"github.com/JasonGordonD/anna-agent-c/internal/store"
)

// Error taxonomy surfaced in logs and by Converse.
var (
	ErrUpstream       = errors.New("upstream failure")
	ErrMalformedEvent = errors.New("malformed event")
)

// MemoryStore is the append-only turn log.
type MemoryStore interface {
	FetchContext(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error)
	Append(ctx context.Context, turn domain.ConversationTurn) error
}

// ReplyGenerator produces the assistant reply.
type ReplyGenerator interface {
	Generate(ctx context.Context, systemPrompt, utterance string) (string, error)
}

// Speaker plays text into the session's audio room.
type Speaker interface {
	Speak(ctx context.Context, sessionID, text string) error
}

// KnowledgeBase supplies the identity and caller documents.
type KnowledgeBase interface {
	Identity() string
	Caller(callerID string) domain.CallerProfile
}

type leaver interface {
	Leave(sessionID string) error
}

// Timeouts bound each external call.
type Timeouts struct {
	Fetch    time.Duration
	Append   time.Duration
	Generate time.Duration
	Speak    time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Greeting       string
	DefaultSession string
	MaxTurns       int
	TokenBudget    int
	Timeouts       Timeouts
}

// Deps are the capabilities the dispatcher drives.
type Deps struct {
	Store     MemoryStore
	Generator ReplyGenerator
	Speaker   Speaker
	Knowledge KnowledgeBase
	CallLog   calllog.Logger
	Logger    *slog.Logger
}

// Dispatcher runs the pipeline for one event at a time. It is safe for
// concurrent use; it holds no per-session state.
type Dispatcher struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New creates a Dispatcher. Speaker and CallLog default to no-ops.
func New(deps Deps, opts Options) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Speaker == nil {
		deps.Speaker = nopSpeaker{}
	}
	if deps.CallLog == nil {
		deps.CallLog = calllog.Nop{}
	}
	if opts.DefaultSession == "" {
		opts.DefaultSession = "anna_session_1"
	}
	return &Dispatcher{deps: deps, opts: opts, log: deps.Logger}
}

type nopSpeaker struct{}

func (nopSpeaker) Speak(context.Context, string, string) error { return nil }

// SessionOf resolves the session key for an event.
func (d *Dispatcher) SessionOf(ev domain.WebhookEvent) string {
	return ev.Session(d.opts.DefaultSession)
}

// Handle classifies ev and runs its action to completion. Failures of
// individual steps are logged, never returned.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.WebhookEvent) domain.DispatchOutcome {
	outcome := Classify(ev)
	sessionID := d.SessionOf(ev)
	log := d.log.With("session_id", sessionID, "event", string(ev.Type), "action", string(outcome.Action))

	if !outcome.Runs() {
		log.Info("event ignored", "reason", outcome.Reason)
		return outcome
	}

	start := time.Now()
	switch outcome.Action {
	case domain.ActionGreet:
		d.greet(ctx, log, sessionID)
	case domain.ActionReply:
		d.reply(ctx, log, sessionID, ev)
	case domain.ActionFinalize:
		d.finalize(ctx, log, sessionID, ev)
	}
	log.Info("event handled", "duration", time.Since(start))
	return outcome
}

// Converse runs one synchronous turn without speech and returns the reply.
func (d *Dispatcher) Converse(ctx context.Context, sessionID, callerID, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("%w: transcript is required", ErrMalformedEvent)
	}
	if sessionID == "" {
		sessionID = d.opts.DefaultSession
	}

	reply, err := d.generate(ctx, sessionID, callerID, transcript)
	if err != nil {
		return "", err
	}

	turn := domain.ConversationTurn{
		SessionID:  sessionID,
		Transcript: transcript,
		Reply:      reply,
		SchemaVars: liveVars(),
	}
	if err := d.append(ctx, turn); err != nil {
		d.log.Warn("failed to persist turn", "session_id", sessionID, "error", err)
	}
	return reply, nil
}

func (d *Dispatcher) greet(ctx context.Context, log *slog.Logger, sessionID string) {
	turn := domain.ConversationTurn{
		SessionID:  sessionID,
		Reply:      d.opts.Greeting,
		SchemaVars: map[string]any{"event": string(domain.EventCallStarted)},
	}
	d.persistAndSpeak(ctx, log, turn, d.opts.Greeting)
}

func (d *Dispatcher) reply(ctx context.Context, log *slog.Logger, sessionID string, ev domain.WebhookEvent) {
	text := strings.TrimSpace(ev.Text)

	reply, err := d.generate(ctx, sessionID, ev.CallerID, text)
	if err != nil {
		log.Error("reply generation failed, turn skipped", "error", err)
		return
	}

	turn := domain.ConversationTurn{
		SessionID:  sessionID,
		Transcript: text,
		Reply:      reply,
		SchemaVars: liveVars(),
	}
	d.persistAndSpeak(ctx, log, turn, reply)
}

func (d *Dispatcher) finalize(ctx context.Context, log *slog.Logger, sessionID string, ev domain.WebhookEvent) {
	vars := map[string]any{"event": string(ev.Type)}
	joined := ev.UserText()
	turn := domain.ConversationTurn{SessionID: sessionID, Transcript: joined, SchemaVars: vars}

	if joined != "" {
		reply, err := d.generate(ctx, sessionID, ev.CallerID, joined)
		if err != nil {
			log.Error("closing reply generation failed, persisting transcript only", "error", err)
		} else {
			turn.Reply = reply
		}
	}

	if err := d.append(ctx, turn); err != nil {
		log.Error("failed to persist call marker", "error", err)
	}

	d.logCall(sessionID, ev, turn.Reply)

	if l, ok := d.deps.Speaker.(leaver); ok {
		if err := l.Leave(sessionID); err != nil {
			log.Warn("failed to leave room", "error", err)
		}
	}
}

// persistAndSpeak runs the append and the speech concurrently; neither
// outcome affects the other.
func (d *Dispatcher) persistAndSpeak(ctx context.Context, log *slog.Logger, turn domain.ConversationTurn, text string) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := d.append(ctx, turn); err != nil {
			log.Error("failed to persist turn", "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := d.speak(ctx, turn.SessionID, text); err != nil {
			log.Warn("speech failed", "error", err)
		}
	}()

	wg.Wait()
}

func (d *Dispatcher) generate(ctx context.Context, sessionID, callerID, utterance string) (string, error) {
	turns := store.FetchContextOrEmpty(ctx, d.deps.Store, sessionID, d.opts.Timeouts.Fetch)
	turns = prompt.Window(turns, d.opts.MaxTurns, d.opts.TokenBudget)

	caller := d.deps.Knowledge.Caller(callerID)
	system := prompt.Build(d.deps.Knowledge.Identity(), caller.Text, turns)

	gctx, cancel := withTimeout(ctx, d.opts.Timeouts.Generate)
	defer cancel()

	reply, err := d.deps.Generator.Generate(gctx, system, utterance)
	if err != nil {
		return "", fmt.Errorf("%w: generate reply: %w", ErrUpstream, err)
	}
	return reply, nil
}

func (d *Dispatcher) append(ctx context.Context, turn domain.ConversationTurn) error {
	actx, cancel := withTimeout(ctx, d.opts.Timeouts.Append)
	defer cancel()

	if err := d.deps.Store.Append(actx, turn); err != nil {
		return fmt.Errorf("%w: append turn: %w", ErrUpstream, err)
	}
	return nil
}

func (d *Dispatcher) speak(ctx context.Context, sessionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sctx, cancel := withTimeout(ctx, d.opts.Timeouts.Speak)
	defer cancel()

	if err := d.deps.Speaker.Speak(sctx, sessionID, text); err != nil {
		return fmt.Errorf("%w: speak: %w", ErrUpstream, err)
	}
	return nil
}

func (d *Dispatcher) logCall(sessionID string, ev domain.WebhookEvent, reply string) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	for i, t := range ev.Body {
		d.deps.CallLog.Log(calllog.Event{
			Timestamp:  ts,
			CallerID:   ev.CallerID,
			SessionID:  sessionID,
			Role:       strings.ToLower(strings.TrimSpace(t.Role)),
			EventType:  string(ev.Type),
			ContentRaw: t.Text,
			Meta:       map[string]any{"index": i, "request_id": ev.RequestID},
		})
	}
	d.deps.CallLog.Log(calllog.Event{
		Timestamp:  ts,
		CallerID:   ev.CallerID,
		SessionID:  sessionID,
		Role:       "assistant",
		EventType:  string(ev.Type) + "_reply",
		ContentRaw: reply,
		Meta:       map[string]any{"turns": len(ev.Body), "request_id": ev.RequestID},
	})
}

func liveVars() map[string]any {
	return map[string]any{
		"psych_state": "intense",
		"nsfw_level":  "high",
		"arc_update":  true,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
