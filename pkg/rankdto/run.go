package rankdto

import "time"

type Item struct {
	Key         string
	DisplayName string
}

// Matchup is a single pairwise question presented to the user.
type Matchup struct {
	Left     Item
	Right    Item
	Sequence int
	Total    int
}

type RatingChange struct {
	Item      Item
	OldRating int
	NewRating int
	Delta     int
}

type RunState struct {
	RunUUID    string
	RoomHash   string
	OwnerName  string
	PoolKey    string
	PoolTitle  string
	Items      []Item
	Played     int
	TotalPairs int
	Finished   bool
	Next       *Matchup
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// ChoiceSummary summarises the rating movement caused by one recorded outcome.
type ChoiceSummary struct {
	RunUUID   string
	Outcome   string
	Left      RatingChange
	Right     RatingChange
	Played    int
	Total     int
	Finished  bool
	Next      *Matchup
	Standings []Standing
}

type Standing struct {
	Rank        int
	Item        Item
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Ties        int
}
