package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/pkg/rankdto"
)

type fakeCommitter struct {
	mu      sync.Mutex
	failing map[string]error
	done    []string
}

func (f *fakeCommitter) Commit(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[string(payload)]; ok {
		return err
	}
	f.done = append(f.done, string(payload))
	return nil
}

func (f *fakeCommitter) setFailure(payload string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = make(map[string]error)
	}
	if err == nil {
		delete(f.failing, payload)
		return
	}
	f.failing[payload] = err
}

func (f *fakeCommitter) committed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.done...)
}

type fakeNet struct {
	mu     sync.Mutex
	online bool
	cbs    map[int]func(bool)
	nextID int
}

func newFakeNet(online bool) *fakeNet {
	return &fakeNet{online: online, cbs: make(map[int]func(bool))}
}

func (n *fakeNet) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *fakeNet) OnChange(cb func(bool)) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.cbs[n.nextID] = cb
	return n.nextID
}

func (n *fakeNet) RemoveOnChange(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cbs, id)
}

func (n *fakeNet) flip(online bool) {
	n.mu.Lock()
	n.online = online
	cbs := make([]func(bool), 0, len(n.cbs))
	for _, cb := range n.cbs {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()
	for _, cb := range cbs {
		cb(online)
	}
}

func newTestJournal(t *testing.T) *RedisJournal {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisJournal(rdb, "test")
}

func newTestQueue(t *testing.T, j Journal, c Committer, n Connectivity) *Queue {
	t.Helper()
	q, err := New(j, c, n, zap.NewNop())
	if err != nil {
		t.Fatalf("syncqueue.New: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		if _, err := q.Enqueue(ctx, "run_state", []byte(fmt.Sprintf("#%d", i))); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}
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

func TestDrainDeliversInOrder(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	q := newTestQueue(t, j, c, newFakeNet(false))
	ctx := context.Background()

	enqueueN(t, q, 4)

	count, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if count != 4 {
		t.Fatalf("drained %d, want 4", count)
	}

	got := c.committed()
	want := []string{"#1", "#2", "#3", "#4"}
	if len(got) != len(want) {
		t.Fatalf("committed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("committed %v, want %v", got, want)
		}
	}

	if n, _ := j.Len(ctx); n != 0 {
		t.Fatalf("journal length = %d after full drain, want 0", n)
	}
}

func TestTransientFailureBlocksHead(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	c.setFailure("#1", errors.New("relay unavailable"))
	q := newTestQueue(t, j, c, newFakeNet(false))
	ctx := context.Background()

	enqueueN(t, q, 2)

	count, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if count != 0 {
		t.Fatalf("drained %d past a blocked head, want 0", count)
	}
	if got := c.committed(); len(got) != 0 {
		t.Fatalf("commits happened past a blocked head: %v", got)
	}

	pending, err := j.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 || string(pending[0].Payload) != "#1" || string(pending[1].Payload) != "#2" {
		t.Fatalf("queue order disturbed: %+v", pending)
	}
	if pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Fatalf("head attempt not recorded: %+v", pending[0])
	}

	// relay recovers; the next drain empties the queue in order
	c.setFailure("#1", nil)
	count, err = q.Drain(ctx)
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if count != 2 {
		t.Fatalf("second drain delivered %d, want 2", count)
	}
	got := c.committed()
	if len(got) != 2 || got[0] != "#1" || got[1] != "#2" {
		t.Fatalf("commit order = %v, want [#1 #2]", got)
	}
}

func TestPermanentFailureDeadLetters(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	c.setFailure("#1", rankdto.DomainError{Code: "rejected", Message: "schema mismatch", Retryable: false})
	q := newTestQueue(t, j, c, newFakeNet(false))
	ctx := context.Background()

	enqueueN(t, q, 2)

	count, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if count != 1 {
		t.Fatalf("drained %d, want 1 (the write behind the dead letter)", count)
	}
	if got := c.committed(); len(got) != 1 || got[0] != "#2" {
		t.Fatalf("committed %v, want [#2]", got)
	}
	if n, _ := j.Len(ctx); n != 0 {
		t.Fatalf("pending length = %d, want 0", n)
	}
	if n, _ := j.DeadLen(ctx); n != 1 {
		t.Fatalf("dead-letter length = %d, want 1", n)
	}
}

func TestJournalSurvivesReload(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	ctx := context.Background()

	rdb1 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q1 := newTestQueue(t, NewRedisJournal(rdb1, "test"), &fakeCommitter{}, newFakeNet(false))
	enqueueN(t, q1, 3)
	q1.Close()
	_ = rdb1.Close()

	// a fresh process over the same store sees the same queue
	rdb2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb2.Close() })
	c2 := &fakeCommitter{}
	q2 := newTestQueue(t, NewRedisJournal(rdb2, "test"), c2, newFakeNet(true))

	count, err := q2.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain after reload: %v", err)
	}
	if count != 3 {
		t.Fatalf("drained %d after reload, want 3", count)
	}
	got := c2.committed()
	if len(got) != 3 || got[0] != "#1" || got[2] != "#3" {
		t.Fatalf("post-reload order = %v, want [#1 #2 #3]", got)
	}
}

func TestStartDrainsOnReconnect(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	net := newFakeNet(false)
	q := newTestQueue(t, j, c, net)
	ctx := context.Background()

	var notifyMu sync.Mutex
	var counts []int
	q.SetDrainNotifier(func(n int) {
		notifyMu.Lock()
		counts = append(counts, n)
		notifyMu.Unlock()
	})

	q.Start()
	enqueueN(t, q, 3)

	net.flip(true)
	waitUntil(t, 2*time.Second, func() bool {
		notifyMu.Lock()
		defer notifyMu.Unlock()
		return len(counts) > 0
	})

	if n, err := j.Len(ctx); err != nil || n != 0 {
		t.Fatalf("journal length = %d (%v), want 0", n, err)
	}
	notifyMu.Lock()
	defer notifyMu.Unlock()
	if len(counts) != 1 || counts[0] != 3 {
		t.Fatalf("drain notifications = %v, want [3]", counts)
	}
}

func TestStartOnlineDrainsEagerly(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	q := newTestQueue(t, j, c, newFakeNet(true))
	ctx := context.Background()

	enqueueN(t, q, 2)
	q.Start()

	waitUntil(t, 2*time.Second, func() bool {
		n, err := j.Len(ctx)
		return err == nil && n == 0
	})
	if got := c.committed(); len(got) != 2 {
		t.Fatalf("eager drain committed %v, want 2 writes", got)
	}
}

func TestStatus(t *testing.T) {
	j := newTestJournal(t)
	c := &fakeCommitter{}
	q := newTestQueue(t, j, c, newFakeNet(false))
	ctx := context.Background()

	enqueueN(t, q, 2)

	st, err := q.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Online {
		t.Fatal("status reports online while offline")
	}
	if st.Pending != 2 || st.DeadLettered != 0 {
		t.Fatalf("status = %+v, want 2 pending, 0 dead", st)
	}
	if len(st.Writes) != 2 || st.Writes[0].Kind != "run_state" {
		t.Fatalf("status writes = %+v", st.Writes)
	}
}

func TestMemoryJournalMirrorsRedis(t *testing.T) {
	j := NewMemoryJournal()
	c := &fakeCommitter{}
	c.setFailure("#1", errors.New("down"))
	q := newTestQueue(t, j, c, newFakeNet(false))
	ctx := context.Background()

	enqueueN(t, q, 2)

	if count, err := q.Drain(ctx); err != nil || count != 0 {
		t.Fatalf("blocked drain = %d, %v", count, err)
	}
	head, err := j.Peek(ctx)
	if err != nil || head == nil {
		t.Fatalf("Peek: %v, %v", head, err)
	}
	if head.Attempts != 1 || string(head.Payload) != "#1" {
		t.Fatalf("head = %+v, want #1 with one attempt", head)
	}

	c.setFailure("#1", nil)
	if count, err := q.Drain(ctx); err != nil || count != 2 {
		t.Fatalf("drain after recovery = %d, %v", count, err)
	}
	if n, _ := j.Len(ctx); n != 0 {
		t.Fatalf("memory journal length = %d, want 0", n)
	}
}
