package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

func TestUnknownEventHasNoSideEffects(t *testing.T) {
	h := newHarness()

	out := h.d.Handle(context.Background(), domain.WebhookEvent{Type: "call_ringing", SessionID: "s1", Text: "hi"})

	if out.Status != domain.StatusIgnored || out.Action != domain.ActionNone {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !h.noSideEffects() {
		t.Fatal("unknown event must not touch store, generator or speaker")
	}
}

func TestCallStartedGreets(t *testing.T) {
	h := newHarness()

	out := h.d.Handle(context.Background(), domain.WebhookEvent{Type: domain.EventCallStarted, SessionID: "s1"})
	if out.Action != domain.ActionGreet {
		t.Fatalf("unexpected outcome %+v", out)
	}

	turns := h.store.appended()
	if len(turns) != 1 {
		t.Fatalf("expected one turn, got %d", len(turns))
	}
	if turns[0].Transcript != "" || turns[0].Reply != testGreeting || turns[0].Event() != "call_started" {
		t.Fatalf("unexpected greeting turn %+v", turns[0])
	}
	if got := h.speaker.texts(); len(got) != 1 || got[0] != testGreeting {
		t.Fatalf("expected one greeting speech call, got %v", got)
	}
	if h.gen.count() != 0 {
		t.Fatal("greeting must not call the generator")
	}
}

func TestBlankTranscriptionIsNoop(t *testing.T) {
	for _, text := range []string{"", "   "} {
		h := newHarness()
		out := h.d.Handle(context.Background(), domain.WebhookEvent{Type: domain.EventUserTranscription, SessionID: "s1", Text: text})

		if out.Action != domain.ActionNoop {
			t.Fatalf("text %q: unexpected outcome %+v", text, out)
		}
		if !h.noSideEffects() {
			t.Fatalf("text %q: expected no side effects", text)
		}
	}
}

func TestTranscriptionUsesStoredContextInOrder(t *testing.T) {
	h := newHarness()
	h.store.turns = []domain.ConversationTurn{
		{SessionID: "s1", Transcript: "first question", Reply: "first answer"},
		{SessionID: "other", Transcript: "not mine", Reply: "nope"},
		{SessionID: "s1", Transcript: "second question", Reply: "second answer"},
	}

	h.d.Handle(context.Background(), domain.WebhookEvent{
		Type:      domain.EventUserTranscription,
		SessionID: "s1",
		CallerID:  "+1555",
		Text:      "  third question ",
	})

	if h.gen.count() != 1 {
		t.Fatalf("expected one generator call, got %d", h.gen.count())
	}
	call := h.gen.calls[0]
	if call.utterance != "third question" {
		t.Errorf("unexpected utterance %q", call.utterance)
	}
	first := strings.Index(call.system, "first question")
	second := strings.Index(call.system, "second question")
	if first < 0 || second < 0 || first > second {
		t.Errorf("prompt must contain prior turns in stored order: %q", call.system)
	}
	if strings.Contains(call.system, "not mine") {
		t.Error("prompt leaked another session's turns")
	}
	if !strings.HasPrefix(call.system, "IDENTITY") || !strings.Contains(call.system, "CALLER:+1555") {
		t.Errorf("prompt missing identity or caller notes: %q", call.system)
	}

	turns := h.store.appended()
	last := turns[len(turns)-1]
	if len(turns) != 4 || last.Transcript != "third question" || last.Reply != "generated reply" {
		t.Fatalf("expected one appended reply turn, got %+v", turns)
	}
	if last.SchemaVars["psych_state"] != "intense" || last.SchemaVars["nsfw_level"] != "high" || last.SchemaVars["arc_update"] != true {
		t.Errorf("unexpected schema vars %+v", last.SchemaVars)
	}
	if got := h.speaker.texts(); len(got) != 1 || got[0] != "generated reply" {
		t.Errorf("expected reply to be spoken, got %v", got)
	}
}

func TestFetchFailureDegradesToEmptyContext(t *testing.T) {
	h := newHarness()
	h.store.fetchErr = errors.New("store unreachable")

	h.d.Handle(context.Background(), domain.WebhookEvent{Type: domain.EventUserTranscription, SessionID: "s1", Text: "hello"})

	if h.gen.count() != 1 {
		t.Fatal("generation must proceed when fetch fails")
	}
	if !strings.Contains(h.gen.calls[0].system, "Use memories: []") {
		t.Errorf("expected empty memory context, got %q", h.gen.calls[0].system)
	}
	if len(h.store.appended()) != 1 {
		t.Fatal("turn must still be appended")
	}
}

func TestSpeechFailureStillPersists(t *testing.T) {
	events := []domain.WebhookEvent{
		{Type: domain.EventCallStarted, SessionID: "s1"},
		{Type: domain.EventUserTranscription, SessionID: "s1", Text: "hello"},
	}
	for _, ev := range events {
		h := newHarness()
		h.speaker.err = errors.New("tts down")

		h.d.Handle(context.Background(), ev)

		if len(h.store.appended()) != 1 {
			t.Fatalf("%s: turn must be appended despite speech failure", ev.Type)
		}
	}
}

func TestGenerationFailureSkipsTurn(t *testing.T) {
	h := newHarness()
	h.gen.err = errors.New("llm timeout")

	h.d.Handle(context.Background(), domain.WebhookEvent{Type: domain.EventUserTranscription, SessionID: "s1", Text: "hello"})

	if len(h.store.appended()) != 0 || len(h.speaker.texts()) != 0 {
		t.Fatal("no reply means nothing persisted and nothing spoken")
	}
}

func TestCallCompletedJoinsUserTurns(t *testing.T) {
	h := newHarness()

	out := h.d.Handle(context.Background(), domain.WebhookEvent{
		Type:      domain.EventCallCompleted,
		RequestID: "req-9",
		CallerID:  "+1555",
		Body: []domain.BodyTurn{
			{Role: "user", Text: "hello"},
			{Role: "agent", Text: "hi"},
		},
	})
	if out.Action != domain.ActionFinalize {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if h.gen.count() != 1 || h.gen.calls[0].utterance != "hello" {
		t.Fatalf("expected one generator call with joined user text, got %+v", h.gen.calls)
	}
	turns := h.store.appended()
	if len(turns) != 1 || turns[0].Transcript != "hello" || turns[0].Event() != "call_completed" {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if turns[0].SessionID != "req-9" {
		t.Errorf("expected request id as session fallback, got %q", turns[0].SessionID)
	}
	if len(h.speaker.texts()) != 0 {
		t.Error("terminal events are not spoken")
	}
	if len(h.speaker.left) != 1 || h.speaker.left[0] != "req-9" {
		t.Errorf("expected room to be left, got %v", h.speaker.left)
	}
	if len(h.calls.events) != 3 {
		t.Errorf("expected two body lines and a reply line in the call log, got %d", len(h.calls.events))
	}
}

func TestCallCompletedWithoutUserTextPersistsMarker(t *testing.T) {
	for _, typ := range []domain.EventType{domain.EventCallCompleted, domain.EventCallFailed} {
		h := newHarness()

		h.d.Handle(context.Background(), domain.WebhookEvent{Type: typ, SessionID: "s1", Body: []domain.BodyTurn{}})

		if h.gen.count() != 0 {
			t.Fatalf("%s: generator must not be called", typ)
		}
		turns := h.store.appended()
		if len(turns) != 1 || turns[0].Transcript != "" || turns[0].Reply != "" || turns[0].Event() != string(typ) {
			t.Fatalf("%s: unexpected marker %+v", typ, turns)
		}
	}
}

func TestDefaultSessionFallback(t *testing.T) {
	h := newHarness()

	h.d.Handle(context.Background(), domain.WebhookEvent{Type: domain.EventCallStarted})

	if turns := h.store.appended(); len(turns) != 1 || turns[0].SessionID != "anna_session_1" {
		t.Fatalf("expected default session, got %+v", turns)
	}
}

func TestConverse(t *testing.T) {
	h := newHarness()

	reply, err := h.d.Converse(context.Background(), "", "", "who are you")
	if err != nil {
		t.Fatalf("Converse failed: %v", err)
	}
	if reply != "generated reply" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(h.speaker.texts()) != 0 {
		t.Fatal("Converse must not speak")
	}
	if turns := h.store.appended(); len(turns) != 1 || turns[0].SessionID != "anna_session_1" {
		t.Fatalf("unexpected turns %+v", turns)
	}

	if _, err := h.d.Converse(context.Background(), "s1", "", "  "); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}

	h.gen.err = errors.New("boom")
	if _, err := h.d.Converse(context.Background(), "s1", "", "hi"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		ev     domain.WebhookEvent
		status string
		action domain.Action
	}{
		{domain.WebhookEvent{Type: domain.EventCallStarted}, domain.StatusAccepted, domain.ActionGreet},
		{domain.WebhookEvent{Type: domain.EventUserTranscription, Text: "x"}, domain.StatusAccepted, domain.ActionReply},
		{domain.WebhookEvent{Type: domain.EventUserTranscription, Text: "\t"}, domain.StatusIgnored, domain.ActionNoop},
		{domain.WebhookEvent{Type: domain.EventCallFailed}, domain.StatusAccepted, domain.ActionFinalize},
		{domain.WebhookEvent{Type: domain.EventCallCompleted, Text: "  "}, domain.StatusAccepted, domain.ActionFinalize},
		{domain.WebhookEvent{Type: domain.EventCallStarted, Text: "ignored"}, domain.StatusAccepted, domain.ActionGreet},
		{domain.WebhookEvent{Type: ""}, domain.StatusIgnored, domain.ActionNone},
		{domain.WebhookEvent{Type: "call_completed_v2", Text: "hi"}, domain.StatusIgnored, domain.ActionNone},
	}
	for _, tt := range tests {
		got := Classify(tt.ev)
		if got.Status != tt.status || got.Action != tt.action {
			t.Errorf("Classify(%+v) = %+v", tt.ev, got)
		}
	}
}
