package rankdto

import "time"

type RunSummary struct {
	ID          int64
	RunUUID     string
	RoomHash    string
	PoolKey     string
	ItemCount   int
	Comparisons int
	Winner      string
	FinalOrder  []string
	Status      string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}
