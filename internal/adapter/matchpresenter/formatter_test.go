package matchpresenter

import (
	"strings"
	"testing"

	"github.com/jwp-labs/rankduel/internal/msgcat"
	"github.com/jwp-labs/rankduel/pkg/rankdto"
)

type staticPrefix string

func (s staticPrefix) Prefix() string { return string(s) }

func newTestFormatter(t *testing.T) *Formatter {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	return NewFormatter(staticPrefix("!"), cat, 32)
}

func sampleState() *rankdto.RunState {
	return &rankdto.RunState{
		RunUUID:   "9f2d1c3a-0000-0000-0000-000000000000",
		PoolTitle: "Classic Cat Names",
		Items: []rankdto.Item{
			{Key: "whiskers", DisplayName: "Whiskers"},
			{Key: "mittens", DisplayName: "Mittens"},
			{Key: "shadow", DisplayName: "Shadow"},
		},
		TotalPairs: 3,
		Next: &rankdto.Matchup{
			Left:     rankdto.Item{Key: "whiskers", DisplayName: "Whiskers"},
			Right:    rankdto.Item{Key: "mittens", DisplayName: "Mittens"},
			Sequence: 1,
			Total:    3,
		},
	}
}

func TestStartRendersPrompt(t *testing.T) {
	f := newTestFormatter(t)
	out := f.Start(sampleState(), false)

	for _, want := range []string{"Classic Cat Names", "Matchup 1/3", "Whiskers", "Mittens", "!1", "!tie"} {
		if !strings.Contains(out, want) {
			t.Fatalf("start message missing %q:\n%s", want, out)
		}
	}
}

func TestChoiceShowsDeltas(t *testing.T) {
	f := newTestFormatter(t)
	sum := &rankdto.ChoiceSummary{
		Outcome: "left",
		Left: rankdto.RatingChange{
			Item:      rankdto.Item{Key: "whiskers", DisplayName: "Whiskers"},
			OldRating: 1500, NewRating: 1532, Delta: 32,
		},
		Right: rankdto.RatingChange{
			Item:      rankdto.Item{Key: "mittens", DisplayName: "Mittens"},
			OldRating: 1500, NewRating: 1468, Delta: -32,
		},
		Played: 1,
		Total:  3,
		Next: &rankdto.Matchup{
			Left:     rankdto.Item{Key: "shadow", DisplayName: "Shadow"},
			Right:    rankdto.Item{Key: "whiskers", DisplayName: "Whiskers"},
			Sequence: 2,
			Total:    3,
		},
	}

	out := f.Choice(sum)
	for _, want := range []string{"(▲32)", "(▼32)", "Matchup 2/3", "Whiskers takes it"} {
		if !strings.Contains(out, want) {
			t.Fatalf("choice message missing %q:\n%s", want, out)
		}
	}
}

func TestChoiceFinishedShowsChampion(t *testing.T) {
	f := newTestFormatter(t)
	sum := &rankdto.ChoiceSummary{
		Outcome: "right",
		Left: rankdto.RatingChange{
			Item: rankdto.Item{Key: "rex", DisplayName: "Rex"}, NewRating: 1468, Delta: -32,
		},
		Right: rankdto.RatingChange{
			Item: rankdto.Item{Key: "fido", DisplayName: "Fido"}, NewRating: 1532, Delta: 32,
		},
		Played:   1,
		Total:    1,
		Finished: true,
		Standings: []rankdto.Standing{
			{Rank: 1, Item: rankdto.Item{Key: "fido", DisplayName: "Fido"}, Rating: 1532, Wins: 1, GamesPlayed: 1},
			{Rank: 2, Item: rankdto.Item{Key: "rex", DisplayName: "Rex"}, Rating: 1468, Losses: 1, GamesPlayed: 1},
		},
	}

	out := f.Choice(sum)
	if !strings.Contains(out, "Champion: Fido") {
		t.Fatalf("finished message missing champion:\n%s", out)
	}
	if !strings.Contains(out, "1. Fido — 1532 (1W 0L 0T)") {
		t.Fatalf("finished message missing standings line:\n%s", out)
	}
}

func TestLeaderboardEmpty(t *testing.T) {
	f := newTestFormatter(t)
	out := f.Leaderboard(nil)
	if out != "No standings for this room yet." {
		t.Fatalf("empty leaderboard = %q", out)
	}
}

func TestFallbacksWithoutCatalog(t *testing.T) {
	f := NewFormatter(staticPrefix("!"), nil, 0)
	out := f.NoRun()
	if !strings.Contains(out, "!rank start") {
		t.Fatalf("fallback no-run message = %q", out)
	}
	if got := f.TooManyItems(); !strings.Contains(got, "32") {
		t.Fatalf("fallback limit message = %q", got)
	}
}
