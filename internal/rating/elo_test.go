package rating

import (
	"errors"
	"math"
	"testing"
)

func TestExpectedScoreSymmetry(t *testing.T) {
	pairs := [][2]int{{1500, 1500}, {1600, 1400}, {100, 3000}, {2875, 900}}
	for _, p := range pairs {
		sum := ExpectedScore(p[0], p[1]) + ExpectedScore(p[1], p[0])
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("expected scores for %d vs %d sum to %v, want 1", p[0], p[1], sum)
		}
	}
}

func TestEqualRatingsDecisiveOutcome(t *testing.T) {
	left := Side{Rating: 1500, GamesPlayed: NewItemThreshold}
	right := Side{Rating: 1500, GamesPlayed: NewItemThreshold}

	nl, nr := CalculateNewRatings(left, right, OutcomeLeft)
	if nl.Rating != 1516 || nr.Rating != 1484 {
		t.Fatalf("ratings = %d/%d, want 1516/1484", nl.Rating, nr.Rating)
	}
	if nl.Wins != 1 || nl.Losses != 0 || nr.Wins != 0 || nr.Losses != 1 {
		t.Fatalf("counters moved wrong: left=%+v right=%+v", nl, nr)
	}
	if nl.GamesPlayed != NewItemThreshold+1 || nr.GamesPlayed != NewItemThreshold+1 {
		t.Fatalf("games played = %d/%d, want both %d", nl.GamesPlayed, nr.GamesPlayed, NewItemThreshold+1)
	}
}

func TestTieMovesNoWinLossCounters(t *testing.T) {
	left := Side{Rating: 1600, GamesPlayed: 10, Wins: 4, Losses: 2}
	right := Side{Rating: 1400, GamesPlayed: 10, Wins: 3, Losses: 5}

	nl, nr := CalculateNewRatings(left, right, OutcomeTie)
	if nl.Wins != 4 || nl.Losses != 2 || nr.Wins != 3 || nr.Losses != 5 {
		t.Fatalf("win/loss counters changed on tie: left=%+v right=%+v", nl, nr)
	}
	if nl.Ties != 1 || nr.Ties != 1 {
		t.Fatalf("ties = %d/%d, want 1/1", nl.Ties, nr.Ties)
	}
	if nl.Rating >= left.Rating || nr.Rating <= right.Rating {
		t.Fatalf("tie should pull ratings together, got %d and %d", nl.Rating, nr.Rating)
	}
}

func TestProvisionalDoublesK(t *testing.T) {
	provisional := UpdateRating(1500, 0.5, 1, 0)
	settled := UpdateRating(1500, 0.5, 1, NewItemThreshold)
	if provisional-1500 != 2*(settled-1500) {
		t.Fatalf("provisional delta %d, settled delta %d", provisional-1500, settled-1500)
	}
}

func TestClampAtExtremes(t *testing.T) {
	if got := UpdateRating(MaxRating, 0.01, 1, 100); got != MaxRating {
		t.Fatalf("winner over ceiling = %d, want %d", got, MaxRating)
	}
	if got := UpdateRating(MinRating, 0.99, 0, 100); got != MinRating {
		t.Fatalf("loser under floor = %d, want %d", got, MinRating)
	}
	if got := UpdateRating(MaxRating-1, 0.01, 1, 100); got != MaxRating {
		t.Fatalf("near-ceiling winner = %d, want clamp to %d", got, MaxRating)
	}
}

func TestParseOutcome(t *testing.T) {
	valid := map[string]Outcome{
		"1":     OutcomeLeft,
		"LEFT":  OutcomeLeft,
		" 2 ":   OutcomeRight,
		"r":     OutcomeRight,
		"draw":  OutcomeTie,
		"tie":   OutcomeTie,
	}
	for token, want := range valid {
		got, err := ParseOutcome(token)
		if err != nil {
			t.Fatalf("ParseOutcome(%q) error: %v", token, err)
		}
		if got != want {
			t.Fatalf("ParseOutcome(%q) = %q, want %q", token, got, want)
		}
	}

	if _, err := ParseOutcome("maybe"); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("ParseOutcome(maybe) error = %v, want ErrInvalidOutcome", err)
	}
}
