package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LiveKitConfig holds the server credentials and publishing options.
type LiveKitConfig struct {
	URL            string
	APIKey         string
	APISecret      string
	RoomPrefix     string
	Identity       string
	FrameDuration  time.Duration
	ConnectTimeout time.Duration
}

type liveRoom struct {
	room  *lksdk.Room
	track *lksdk.LocalSampleTrack
}

func (lr *liveRoom) disconnect() {
	if lr.room != nil {
		lr.room.Disconnect()
	}
}

// LiveKit publishes frames as samples on an Opus track in room
// <prefix><sessionID>. Synthesis must therefore produce Opus packets.
// Rooms are joined on first use and kept until Leave.
type LiveKit struct {
	cfg    LiveKitConfig
	logger *slog.Logger
	// connect joins a room; swapped in tests.
	connect func(ctx context.Context, sessionID string) (*liveRoom, error)

	mu    sync.Mutex
	rooms map[string]*liveRoom
}

// NewLiveKit creates a LiveKit transport.
func NewLiveKit(cfg LiveKitConfig, logger *slog.Logger) *LiveKit {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Identity == "" {
		cfg.Identity = "anna-agent"
	}
	l := &LiveKit{cfg: cfg, logger: logger, rooms: make(map[string]*liveRoom)}
	l.connect = l.dial
	return l
}

// RoomName returns the LiveKit room used for a session.
func (l *LiveKit) RoomName(sessionID string) string {
	return l.cfg.RoomPrefix + sessionID
}

// Publish joins the session's room if needed and writes every frame to the
// agent's audio track. Frames are drained even when the join fails.
func (l *LiveKit) Publish(ctx context.Context, sessionID string, frames <-chan []byte) error {
	lr, err := l.join(ctx, sessionID)
	if err != nil {
		for range frames {
		}
		return err
	}

	var writeErr error
	for frame := range frames {
		if writeErr != nil {
			continue
		}
		if err := lr.track.WriteSample(media.Sample{Data: frame, Duration: l.cfg.FrameDuration}, nil); err != nil {
			writeErr = fmt.Errorf("write sample: %w", err)
		}
	}
	return writeErr
}

// join returns the cached room for a session or connects a new one. The
// lock only guards the cache, so a slow connect never stalls other sessions.
func (l *LiveKit) join(ctx context.Context, sessionID string) (*liveRoom, error) {
	if lr, ok := l.cached(sessionID); ok {
		return lr, nil
	}

	lr, err := l.connect(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing, ok := l.rooms[sessionID]; ok {
		l.mu.Unlock()
		lr.disconnect()
		return existing, nil
	}
	l.rooms[sessionID] = lr
	l.mu.Unlock()

	l.logger.Info("joined livekit room", "room", l.RoomName(sessionID), "session_id", sessionID)
	return lr, nil
}

func (l *LiveKit) cached(sessionID string) (*liveRoom, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lr, ok := l.rooms[sessionID]
	return lr, ok
}

func (l *LiveKit) dial(ctx context.Context, sessionID string) (*liveRoom, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		room, err := lksdk.ConnectToRoom(l.cfg.URL, lksdk.ConnectInfo{
			APIKey:              l.cfg.APIKey,
			APISecret:           l.cfg.APISecret,
			RoomName:            l.RoomName(sessionID),
			ParticipantIdentity: l.cfg.Identity,
			ParticipantName:     "Anna",
		}, &lksdk.RoomCallback{})
		done <- result{room, err}
	}()

	var room *lksdk.Room
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("connect to room: %w", res.err)
		}
		room = res.room
	case <-ctx.Done():
		// Disconnect a late join so it does not linger.
		go func() {
			if res := <-done; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to room: %w", ctx.Err())
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus})
	if err != nil {
		room.Disconnect()
		return nil, fmt.Errorf("create sample track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "anna-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		room.Disconnect()
		return nil, fmt.Errorf("publish track: %w", err)
	}

	return &liveRoom{room: room, track: track}, nil
}

// Leave disconnects from the session's room.
func (l *LiveKit) Leave(sessionID string) error {
	l.mu.Lock()
	lr, ok := l.rooms[sessionID]
	delete(l.rooms, sessionID)
	l.mu.Unlock()

	if ok {
		lr.disconnect()
		l.logger.Info("left livekit room", "session_id", sessionID)
	}
	return nil
}

// Close disconnects from every room.
func (l *LiveKit) Close() error {
	l.mu.Lock()
	rooms := l.rooms
	l.rooms = make(map[string]*liveRoom)
	l.mu.Unlock()

	for _, lr := range rooms {
		lr.disconnect()
	}
	return nil
}
