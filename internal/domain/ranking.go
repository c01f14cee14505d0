package domain

import "time"

type RankRun struct {
	ID          int64
	RunUUID     string
	OwnerHash   string
	RoomHash    string
	PoolKey     string
	Items       []string
	FinalOrder  []string
	Winner      string
	Comparisons int
	Status      string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

type Standing struct {
	RoomHash    string
	ItemKey     string
	DisplayName string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Ties        int
	LastRunUUID string
	UpdatedAt   time.Time
	CreatedAt   time.Time
}
