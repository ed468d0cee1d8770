// Package speech turns reply text into audio and hands the frames to an
// audio transport. Frames are opaque; nothing here decodes or transcodes them.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoConnection is returned when no live call connection exists for a
// session.
var ErrNoConnection = errors.New("no active connection for session")

// Synthesizer converts text to audio, calling emit once per frame in order.
// Returning an error from emit aborts synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emit func(frame []byte) error) error
}

// Publisher pushes frames into the audio room for a session. Implementations
// must drain frames until it is closed.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, frames <-chan []byte) error
}

// Speaker speaks text into the session's audio room.
type Speaker interface {
	Speak(ctx context.Context, sessionID, text string) error
}

// Leaver is implemented by speakers that hold per-session resources.
type Leaver interface {
	Leave(sessionID string) error
}

// Nop discards speech. It is used when TTS is disabled.
type Nop struct{}

// Speak does nothing.
func (Nop) Speak(context.Context, string, string) error { return nil }

// Streamer connects a Synthesizer to a Publisher.
type Streamer struct {
	synth     Synthesizer
	publisher Publisher
	buffer    int
	logger    *slog.Logger
}

// NewStreamer creates a speaker that publishes every synthesized frame.
func NewStreamer(synth Synthesizer, publisher Publisher, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{synth: synth, publisher: publisher, buffer: 32, logger: logger}
}

// Speak synthesizes text and publishes the frames as they arrive. The
// returned error joins the synthesis and publish failures.
func (s *Streamer) Speak(ctx context.Context, sessionID, text string) error {
	frames := make(chan []byte, s.buffer)
	published := make(chan error, 1)

	go func() {
		published <- s.publisher.Publish(ctx, sessionID, frames)
	}()

	count := 0
	synthErr := s.synth.Synthesize(ctx, text, func(frame []byte) error {
		if len(frame) == 0 {
			return nil
		}
		select {
		case frames <- frame:
			count++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(frames)
	pubErr := <-published

	s.logger.Debug("speech finished", "session_id", sessionID, "frames", count)

	if synthErr != nil {
		synthErr = fmt.Errorf("synthesize: %w", synthErr)
	}
	if pubErr != nil {
		pubErr = fmt.Errorf("publish: %w", pubErr)
	}
	return errors.Join(synthErr, pubErr)
}

// Leave forwards to the publisher when it holds per-session resources.
func (s *Streamer) Leave(sessionID string) error {
	if l, ok := s.publisher.(Leaver); ok {
		return l.Leave(sessionID)
	}
	return nil
}

var (
	_ Speaker = Nop{}
	_ Speaker = (*Streamer)(nil)
	_ Leaver  = (*Streamer)(nil)
)
