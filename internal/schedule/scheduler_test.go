package schedule

import (
	"fmt"
	"testing"

	"github.com/jwp-labs/rankduel/internal/rating"
)

func TestThreeItemWalk(t *testing.T) {
	s := New([]string{"whiskers", "mittens", "shadow"})
	if got := s.TotalPairs(); got != 3 {
		t.Fatalf("TotalPairs = %d, want 3", got)
	}

	first := s.NextMatch()
	if first == nil || first.Left != "whiskers" || first.Right != "mittens" {
		t.Fatalf("first pair = %+v, want whiskers/mittens", first)
	}
	s.RecordOutcome(first.Left, first.Right, rating.OutcomeLeft)

	second := s.NextMatch()
	if second == nil || second.Left != "whiskers" || second.Right != "shadow" {
		t.Fatalf("second pair = %+v, want whiskers/shadow", second)
	}
	s.RecordOutcome(second.Left, second.Right, rating.OutcomeRight)

	third := s.NextMatch()
	if third == nil || third.Left != "mittens" || third.Right != "shadow" {
		t.Fatalf("third pair = %+v, want mittens/shadow", third)
	}
	s.RecordOutcome(third.Left, third.Right, rating.OutcomeTie)

	if left := s.NextMatch(); left != nil {
		t.Fatalf("exhausted scheduler offered %+v", left)
	}
}

func TestEveryPairOfferedOnce(t *testing.T) {
	for n := 2; n <= 7; n++ {
		items := make([]string, n)
		for i := range items {
			items[i] = fmt.Sprintf("item-%d", i)
		}
		s := New(items)

		seen := make(map[string]struct{})
		for {
			p := s.NextMatch()
			if p == nil {
				break
			}
			if _, dup := seen[PairKey(p.Left, p.Right)]; dup {
				t.Fatalf("n=%d: pair %s/%s offered twice", n, p.Left, p.Right)
			}
			if _, dup := seen[PairKey(p.Right, p.Left)]; dup {
				t.Fatalf("n=%d: pair %s/%s offered in both orders", n, p.Left, p.Right)
			}
			seen[PairKey(p.Left, p.Right)] = struct{}{}
			s.RecordOutcome(p.Left, p.Right, rating.OutcomeLeft)
		}

		if want := n * (n - 1) / 2; len(seen) != want {
			t.Fatalf("n=%d: offered %d pairs, want %d", n, len(seen), want)
		}
	}
}

func TestTooFewItems(t *testing.T) {
	if New(nil).NextMatch() != nil {
		t.Fatal("empty list should offer no match")
	}
	if New([]string{"solo"}).NextMatch() != nil {
		t.Fatal("single item should offer no match")
	}
}

func TestUndoThenNextReturnsSamePair(t *testing.T) {
	s := New([]string{"a", "b", "c", "d"})

	p1 := s.NextMatch()
	s.RecordOutcome(p1.Left, p1.Right, rating.OutcomeLeft)
	p2 := s.NextMatch()
	s.RecordOutcome(p2.Left, p2.Right, rating.OutcomeRight)

	undone := s.UndoLastOutcome()
	if undone == nil || undone.Left != p2.Left || undone.Right != p2.Right {
		t.Fatalf("undone record = %+v, want %s/%s", undone, p2.Left, p2.Right)
	}
	again := s.NextMatch()
	if again == nil || again.Left != p2.Left || again.Right != p2.Right {
		t.Fatalf("after undo got %+v, want %s/%s again", again, p2.Left, p2.Right)
	}
}

func TestUndoOnEmptyHistory(t *testing.T) {
	s := New([]string{"a", "b"})
	if rec := s.UndoLastOutcome(); rec != nil {
		t.Fatalf("undo with no history returned %+v", rec)
	}
}

func TestRepeatedOutcomeSkippedAfterUndo(t *testing.T) {
	s := New([]string{"a", "b", "c"})

	p1 := s.NextMatch()
	s.RecordOutcome(p1.Left, p1.Right, rating.OutcomeLeft)
	// resolve the same pair again in reverse order, then undo it
	s.RecordOutcome(p1.Right, p1.Left, rating.OutcomeRight)
	s.UndoLastOutcome()

	next := s.NextMatch()
	if next == nil || next.Left != "a" || next.Right != "c" {
		t.Fatalf("after undo got %+v, want a/c; the a/b pair is still played", next)
	}
}

func TestRestoreResumesScan(t *testing.T) {
	s := New([]string{"a", "b", "c", "d"})
	for k := 0; k < 2; k++ {
		p := s.NextMatch()
		s.RecordOutcome(p.Left, p.Right, rating.OutcomeLeft)
	}

	resumed := Restore(s.Items(), s.History(), s.Cursor())
	if resumed.Played() != 2 {
		t.Fatalf("resumed Played = %d, want 2", resumed.Played())
	}

	want := s.NextMatch()
	got := resumed.NextMatch()
	if want == nil || got == nil || *want != *got {
		t.Fatalf("resumed scheduler offered %+v, want %+v", got, want)
	}
}
