package schedule

import (
	"time"

	"github.com/jwp-labs/rankduel/internal/rating"
)

// Pair is one unordered matchup. Left and Right follow the presentation
// order derived from the candidate list.
type Pair struct {
	Left  string
	Right string
}

// MatchRecord is one resolved comparison, in play order.
type MatchRecord struct {
	PairKey    string         `json:"pair_key"`
	Left       string         `json:"left"`
	Right      string         `json:"right"`
	Outcome    rating.Outcome `json:"outcome"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Scheduler offers every unordered pair of a fixed candidate list exactly
// once, in triangular order. All state beyond the history is a single linear
// cursor, so a run rebuilds from (items, history, cursor) alone. Not safe
// for concurrent use; the owning service serialises access.
type Scheduler struct {
	items   []string
	history []MatchRecord
	played  map[string]struct{}
	cursor  int
}

func New(items []string) *Scheduler {
	return Restore(items, nil, 0)
}

// Restore rebuilds a scheduler from persisted run state.
func Restore(items []string, history []MatchRecord, cursor int) *Scheduler {
	s := &Scheduler{
		items:   append([]string(nil), items...),
		history: append([]MatchRecord(nil), history...),
		cursor:  cursor,
	}
	s.rebuildPlayed()
	if s.cursor < len(s.history) {
		s.cursor = len(s.history)
	}
	return s
}

// PairKey joins two item keys in presentation order. Membership checks always
// consult both orderings, so the stored direction never matters.
func PairKey(a, b string) string {
	return a + "|" + b
}

// NextMatch returns the next unplayed pair, or nil once every pair has been
// offered or fewer than two candidates exist. Scanning advances the stored
// cursor past already played pairs, which is why undo resets the cursor
// instead of decrementing it.
func (s *Scheduler) NextMatch() *Pair {
	n := len(s.items)
	if n < 2 {
		return nil
	}
	total := s.TotalPairs()
	for s.cursor < total {
		i, j := decodePair(s.cursor, n)
		left, right := s.items[i], s.items[j]
		if s.hasPlayed(left, right) {
			s.cursor++
			continue
		}
		return &Pair{Left: left, Right: right}
	}
	return nil
}

// RecordOutcome appends the resolved pair to history and steps the cursor
// past it. Re-recording an already played pair is accepted; the next scan
// simply skips the pair.
func (s *Scheduler) RecordOutcome(left, right string, outcome rating.Outcome) {
	key := PairKey(left, right)
	s.history = append(s.history, MatchRecord{
		PairKey:    key,
		Left:       left,
		Right:      right,
		Outcome:    outcome,
		RecordedAt: time.Now(),
	})
	s.played[key] = struct{}{}
	s.cursor++
}

// UndoLastOutcome removes the most recent record and rewinds the cursor to
// the new history length. The scan may have skipped played pairs on the way
// here, so a plain decrement could leave the undone pair permanently behind
// the cursor.
func (s *Scheduler) UndoLastOutcome() *MatchRecord {
	if len(s.history) == 0 {
		return nil
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	s.cursor = len(s.history)
	s.rebuildPlayed()
	return &last
}

func (s *Scheduler) Items() []string {
	return append([]string(nil), s.items...)
}

func (s *Scheduler) History() []MatchRecord {
	return append([]MatchRecord(nil), s.history...)
}

func (s *Scheduler) Cursor() int {
	return s.cursor
}

func (s *Scheduler) Played() int {
	return len(s.history)
}

func (s *Scheduler) TotalPairs() int {
	n := len(s.items)
	return n * (n - 1) / 2
}

func (s *Scheduler) hasPlayed(a, b string) bool {
	if _, ok := s.played[PairKey(a, b)]; ok {
		return true
	}
	_, ok := s.played[PairKey(b, a)]
	return ok
}

func (s *Scheduler) rebuildPlayed() {
	s.played = make(map[string]struct{}, len(s.history))
	for _, rec := range s.history {
		s.played[rec.PairKey] = struct{}{}
	}
}

// decodePair maps a linear index onto (i, j) with i < j: row i holds the
// n-1-i pairs whose first element is item i, starting at j = i+1. Callers
// guarantee index < n*(n-1)/2.
func decodePair(index, n int) (int, int) {
	i := 0
	for {
		row := n - 1 - i
		if index < row {
			return i, i + 1 + index
		}
		index -= row
		i++
	}
}
