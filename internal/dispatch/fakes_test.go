package dispatch

import (
	"context"
	"sync"

	"github.com/JasonGordonD/anna-agent-c/internal/calllog"
	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	turns      []domain.ConversationTurn
	fetchErr   error
	appendErr  error
	fetchCalls int
}

func (s *fakeStore) FetchContext(_ context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []domain.ConversationTurn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) Append(_ context.Context, turn domain.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.turns = append(s.turns, turn)
	return nil
}

func (s *fakeStore) appended() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConversationTurn(nil), s.turns...)
}

type generateCall struct {
	system    string
	utterance string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	reply string
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, system, utterance string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generateCall{system, utterance})
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	left   []string
	err    error
}

func (s *fakeSpeaker) Speak(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.err
}

func (s *fakeSpeaker) Leave(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, sessionID)
	return nil
}

func (s *fakeSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeKnowledge struct{}

func (fakeKnowledge) Identity() string { return "IDENTITY" }

func (fakeKnowledge) Caller(id string) domain.CallerProfile {
	return domain.CallerProfile{CallerID: id, Text: "CALLER:" + id, Found: true}
}

type fakeCallLog struct {
	mu     sync.Mutex
	events []calllog.Event
}

func (l *fakeCallLog) Log(e calllog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *fakeCallLog) Close() error { return nil }

type harness struct {
	store   *fakeStore
	gen     *fakeGenerator
	speaker *fakeSpeaker
	calls   *fakeCallLog
	d       *Dispatcher
}

const testGreeting = "Hey... it's Anna."

func newHarness() *harness {
	h := &harness{
		store:   &fakeStore{},
		gen:     &fakeGenerator{reply: "generated reply"},
		speaker: &fakeSpeaker{},
		calls:   &fakeCallLog{},
	}
	h.d = New(Deps{
		Store:     h.store,
		Generator: h.gen,
		Speaker:   h.speaker,
		Knowledge: fakeKnowledge{},
		CallLog:   h.calls,
	}, Options{
		Greeting:       testGreeting,
		DefaultSession: "anna_session_1",
		MaxTurns:       50,
	})
	return h
}

// noSideEffects reports whether the harness saw no external call at all.
func (h *harness) noSideEffects() bool {
	h.store.mu.Lock()
	fetches := h.store.fetchCalls
	h.store.mu.Unlock()
	return fetches == 0 && len(h.store.appended()) == 0 && h.gen.count() == 0 && len(h.speaker.texts()) == 0
}
