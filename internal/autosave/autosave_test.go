package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/internal/syncqueue"
)

type recordCommitter struct {
	mu       sync.Mutex
	err      error
	payloads []string
}

func (r *recordCommitter) Commit(_ context.Context, _ string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, string(payload))
	return nil
}

func (r *recordCommitter) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordCommitter) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

type staticNet struct{ online bool }

func (s staticNet) Online() bool            { return s.online }
func (s staticNet) OnChange(func(bool)) int { return 0 }
func (s staticNet) RemoveOnChange(int)      {}

func newTestCoordinator(t *testing.T, online bool, interval time.Duration) (*Coordinator, *recordCommitter, syncqueue.Journal) {
	t.Helper()
	committer := &recordCommitter{}
	journal := syncqueue.NewMemoryJournal()
	net := staticNet{online: online}
	queue, err := syncqueue.New(journal, committer, net, zap.NewNop())
	if err != nil {
		t.Fatalf("syncqueue.New: %v", err)
	}
	t.Cleanup(queue.Close)
	co, err := New("run_state", committer, net, queue, interval, zap.NewNop())
	if err != nil {
		t.Fatalf("autosave.New: %v", err)
	}
	t.Cleanup(co.Close)
	return co, committer, journal
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCoalescesRapidSaves(t *testing.T) {
	co, committer, _ := newTestCoordinator(t, true, 40*time.Millisecond)

	for i := 1; i <= 5; i++ {
		co.ScheduleSave("run-1", []byte(fmt.Sprintf("state-%d", i)))
	}

	waitUntil(t, 2*time.Second, func() bool { return len(committer.list()) > 0 })
	// allow any stray timer to fire before asserting the flush count
	time.Sleep(120 * time.Millisecond)

	got := committer.list()
	if len(got) != 1 || got[0] != "state-5" {
		t.Fatalf("flushes = %v, want exactly [state-5]", got)
	}
}

func TestOfflineSaveGoesToQueue(t *testing.T) {
	co, committer, journal := newTestCoordinator(t, false, 20*time.Millisecond)
	ctx := context.Background()

	co.ScheduleSave("run-1", []byte("offline-state"))

	waitUntil(t, 2*time.Second, func() bool {
		n, err := journal.Len(ctx)
		return err == nil && n == 1
	})
	if got := committer.list(); len(got) != 0 {
		t.Fatalf("direct commits while offline: %v", got)
	}
	head, err := journal.Peek(ctx)
	if err != nil || head == nil {
		t.Fatalf("Peek: %v, %v", head, err)
	}
	if string(head.Payload) != "offline-state" || head.Kind != "run_state" {
		t.Fatalf("queued write = %+v", head)
	}
}

func TestCommitFailureFallsBackToQueue(t *testing.T) {
	co, committer, journal := newTestCoordinator(t, true, 20*time.Millisecond)
	committer.setErr(errors.New("relay error"))
	ctx := context.Background()

	co.ScheduleSave("run-1", []byte("survives"))

	waitUntil(t, 2*time.Second, func() bool {
		n, err := journal.Len(ctx)
		return err == nil && n == 1
	})
	head, _ := journal.Peek(ctx)
	if head == nil || string(head.Payload) != "survives" {
		t.Fatalf("queued write = %+v, want the failed payload", head)
	}
}

func TestKeysFlushIndependently(t *testing.T) {
	co, committer, _ := newTestCoordinator(t, true, 20*time.Millisecond)

	co.ScheduleSave("run-a", []byte("A"))
	co.ScheduleSave("run-b", []byte("B"))

	waitUntil(t, 2*time.Second, func() bool { return len(committer.list()) == 2 })

	seen := map[string]bool{}
	for _, p := range committer.list() {
		seen[p] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Fatalf("flushes = %v, want both A and B", committer.list())
	}
}

func TestFlushAllBypassesTimer(t *testing.T) {
	co, committer, _ := newTestCoordinator(t, true, 10*time.Second)

	co.ScheduleSave("run-1", []byte("now"))
	co.FlushAll(context.Background())

	got := committer.list()
	if len(got) != 1 || got[0] != "now" {
		t.Fatalf("flushes = %v, want [now] immediately", got)
	}
}
