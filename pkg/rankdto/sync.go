package rankdto

import "time"

// PendingWrite describes one durable write still waiting for delivery.
type PendingWrite struct {
	ID         string
	Kind       string
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

type QueueStatus struct {
	Online       bool
	Pending      int
	DeadLettered int
	Writes       []PendingWrite
}
