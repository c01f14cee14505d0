package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/internal/syncqueue"
)

const (
	defaultInterval = 2 * time.Second
	flushTimeout    = 10 * time.Second
)

// Coordinator coalesces rapid state changes into one durable write per key.
// ScheduleSave is last-write-wins: only the payload held when the trailing
// debounce timer fires is persisted. A flush goes straight to the remote
// store when online; when offline, or when the direct commit fails, the
// payload is handed to the durable queue instead of being dropped. One key
// is one ranking run.
type Coordinator struct {
	kind      string
	committer syncqueue.Committer
	net       syncqueue.Connectivity
	queue     *syncqueue.Queue
	interval  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingSave
	closed  bool
}

type pendingSave struct {
	payload  []byte
	debounce func(func())
}

func New(kind string, committer syncqueue.Committer, net syncqueue.Connectivity, queue *syncqueue.Queue, interval time.Duration, logger *zap.Logger) (*Coordinator, error) {
	if kind == "" {
		return nil, errors.New("autosave requires a write kind")
	}
	if committer == nil {
		return nil, errors.New("autosave requires a committer")
	}
	if net == nil {
		return nil, errors.New("autosave requires a connectivity source")
	}
	if queue == nil {
		return nil, errors.New("autosave requires a sync queue")
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		kind:      kind,
		committer: committer,
		net:       net,
		queue:     queue,
		interval:  interval,
		logger:    logger,
		pending:   make(map[string]*pendingSave),
	}, nil
}

// ScheduleSave stores the latest payload for key and re-arms that key's
// debounce timer. Any unflushed earlier payload for the same key is replaced,
// so intermediate states between rapid calls are never persisted.
func (c *Coordinator) ScheduleSave(key string, payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	entry, ok := c.pending[key]
	if !ok {
		entry = &pendingSave{debounce: debounce.New(c.interval)}
		c.pending[key] = entry
	}
	entry.payload = append([]byte(nil), payload...)
	deb := entry.debounce
	c.mu.Unlock()

	deb(func() { c.flushKey(key) })
}

// FlushAll delivers every pending payload immediately, bypassing the timers.
// Used on shutdown so debounced state is not lost.
func (c *Coordinator) FlushAll(ctx context.Context) {
	c.mu.Lock()
	payloads := make(map[string][]byte, len(c.pending))
	for key, entry := range c.pending {
		if entry.payload != nil {
			payloads[key] = entry.payload
		}
	}
	c.pending = make(map[string]*pendingSave)
	c.mu.Unlock()

	for key, payload := range payloads {
		c.deliver(ctx, key, payload)
	}
}

// Close flushes whatever is pending and stops accepting new saves. Timers
// that fire afterwards find nothing to do.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	c.FlushAll(ctx)
}

func (c *Coordinator) flushKey(key string) {
	c.mu.Lock()
	entry, ok := c.pending[key]
	if !ok || entry.payload == nil {
		c.mu.Unlock()
		return
	}
	payload := entry.payload
	delete(c.pending, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	c.deliver(ctx, key, payload)
}

func (c *Coordinator) deliver(ctx context.Context, key string, payload []byte) {
	if c.net.Online() {
		err := c.committer.Commit(ctx, c.kind, payload)
		if err == nil {
			c.logger.Debug("autosave_commit",
				zap.String("key", key),
				zap.String("kind", c.kind))
			return
		}
		c.logger.Warn("autosave_commit_error",
			zap.String("key", key),
			zap.Error(err))
	}

	if _, err := c.queue.Enqueue(ctx, c.kind, payload); err != nil {
		c.logger.Error("autosave_enqueue_error",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	c.logger.Debug("autosave_enqueued",
		zap.String("key", key),
		zap.String("kind", c.kind))
}
