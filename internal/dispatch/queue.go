package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/JasonGordonD/anna-agent-c/internal/domain"
)

// Enqueue errors.
var (
	ErrQueueClosed = errors.New("dispatch queue closed")
	ErrQueueFull   = errors.New("dispatch queue full")
)

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, ev domain.WebhookEvent)

type job struct {
	ctx       context.Context
	sessionID string
	event     domain.WebhookEvent
}

// Queue hands events off to background workers. Each session hashes to one
// worker, so events for a session run in arrival order while different
// sessions run in parallel.
type Queue struct {
	handle HandlerFunc
	shards []chan job
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue with workers shards holding depth events in
// total.
func NewQueue(workers, depth int, handle HandlerFunc, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	perShard := depth / workers
	if perShard < 1 {
		perShard = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{handle: handle, logger: logger, shards: make([]chan job, workers)}
	for i := range q.shards {
		q.shards[i] = make(chan job, perShard)
	}
	return q
}

// Start launches the workers. It is idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.worker(i, ch)
	}
	q.logger.Info("dispatch queue started", "workers", len(q.shards))
}

func (q *Queue) worker(id int, jobs <-chan job) {
	defer q.wg.Done()
	for j := range jobs {
		q.run(id, j)
	}
}

func (q *Queue) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch handler panicked", "worker", id, "session_id", j.sessionID, "panic", r)
		}
	}()
	q.handle(j.ctx, j.event)
}

// Enqueue hands ev to the session's worker without blocking. It fails with
// ErrQueueFull when that worker's buffer is full. The job keeps ctx values
// but not its cancellation, so work outlives the request.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, ev domain.WebhookEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	j := job{ctx: context.WithoutCancel(ctx), sessionID: sessionID, event: ev}
	select {
	case q.shards[q.shard(sessionID)] <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Close stops accepting events and waits for queued work to finish or for
// ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("dispatch queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
