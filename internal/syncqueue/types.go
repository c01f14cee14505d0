package syncqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Write is one durable queued write. The payload is opaque at this layer;
// Kind tells the remote store how to apply it.
type Write struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

// Committer delivers one write to the remote store. Implementations pick the
// transport. A failure that must never be retried is reported as a
// rankdto.DomainError with Retryable set to false; every other error is
// treated as transient.
type Committer interface {
	Commit(ctx context.Context, kind string, payload []byte) error
}

// Connectivity reports whether the remote store is reachable and emits an
// edge callback whenever that changes.
type Connectivity interface {
	Online() bool
	OnChange(cb func(online bool)) int
	RemoveOnChange(id int)
}

// Journal is the durable FIFO behind the queue. Implementations must keep
// insertion order across process restarts. Peek returns nil, nil when empty.
type Journal interface {
	Append(ctx context.Context, w *Write) error
	Peek(ctx context.Context) (*Write, error)
	RemoveHead(ctx context.Context) error
	RecordAttempt(ctx context.Context, id, attemptErr string) error
	MoveHeadToDead(ctx context.Context, reason string) error
	Len(ctx context.Context) (int, error)
	DeadLen(ctx context.Context) (int, error)
	Pending(ctx context.Context, limit int) ([]*Write, error)
}
