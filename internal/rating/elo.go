package rating

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultRating    = 1500
	MinRating        = 100
	MaxRating        = 3000
	KFactor          = 32
	RatingDivisor    = 400
	NewItemThreshold = 5
)

type Outcome string

const (
	OutcomeLeft  Outcome = "left"
	OutcomeRight Outcome = "right"
	OutcomeTie   Outcome = "tie"
)

var ErrInvalidOutcome = errors.New("invalid outcome")

// ParseOutcome maps a user token to an Outcome. Callers validate here; the
// update functions below assume the outcome is one of the three constants.
func ParseOutcome(token string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "left", "l", "1":
		return OutcomeLeft, nil
	case "right", "r", "2":
		return OutcomeRight, nil
	case "tie", "t", "draw":
		return OutcomeTie, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, token)
	}
}

// Side carries one candidate's rating and counters through an update.
type Side struct {
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Ties        int
}

// ExpectedScore returns the probability of the first side beating the second
// under the logistic Elo curve.
func ExpectedScore(rating, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-rating)/RatingDivisor))
}

// UpdateRating applies one K-factor step and clamps the result. K is doubled
// while the item is provisional, i.e. has fewer than NewItemThreshold
// comparisons behind it.
func UpdateRating(current int, expected, actual float64, gamesPlayed int) int {
	k := float64(KFactor)
	if gamesPlayed < NewItemThreshold {
		k *= 2
	}
	next := math.Round(float64(current) + k*(actual-expected))
	return clampRating(int(next))
}

// CalculateNewRatings resolves one pairwise outcome for both sides. Decisive
// outcomes move the win/loss counters exactly once; a tie moves neither.
// Every comparison, tie included, counts toward GamesPlayed.
func CalculateNewRatings(left, right Side, outcome Outcome) (Side, Side) {
	actualLeft, actualRight := actualScores(outcome)

	nextLeft := left
	nextRight := right
	nextLeft.Rating = UpdateRating(left.Rating, ExpectedScore(left.Rating, right.Rating), actualLeft, left.GamesPlayed)
	nextRight.Rating = UpdateRating(right.Rating, ExpectedScore(right.Rating, left.Rating), actualRight, right.GamesPlayed)
	nextLeft.GamesPlayed++
	nextRight.GamesPlayed++

	switch outcome {
	case OutcomeLeft:
		nextLeft.Wins++
		nextRight.Losses++
	case OutcomeRight:
		nextRight.Wins++
		nextLeft.Losses++
	case OutcomeTie:
		nextLeft.Ties++
		nextRight.Ties++
	}

	return nextLeft, nextRight
}

func actualScores(outcome Outcome) (float64, float64) {
	switch outcome {
	case OutcomeLeft:
		return 1, 0
	case OutcomeRight:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

func clampRating(r int) int {
	if r < MinRating {
		return MinRating
	}
	if r > MaxRating {
		return MaxRating
	}
	return r
}
