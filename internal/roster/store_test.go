package roster

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, "test")
}

func TestRegisterGuardsDoubleStart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Register(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, "owner-a", "run-2"); !errors.Is(err, ErrOwnerBusy) {
		t.Fatalf("second Register err = %v, want ErrOwnerBusy", err)
	}
	if err := s.Register(ctx, "owner-b", "run-2"); err != nil {
		t.Fatalf("Register other owner: %v", err)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Lookup(ctx, "ghost")
	if err != nil || id != "" {
		t.Fatalf("Lookup unknown = (%q, %v), want empty", id, err)
	}
	if err := s.Register(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id, err = s.Lookup(ctx, "owner-a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if id != "run-1" {
		t.Fatalf("Lookup = %q, want run-1", id)
	}
}

func TestReleaseChecksRunIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Register(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Release(ctx, "owner-a", "run-other"); !errors.Is(err, ErrRunMismatch) {
		t.Fatalf("Release wrong run err = %v, want ErrRunMismatch", err)
	}
	if err := s.Release(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	id, err := s.Lookup(ctx, "owner-a")
	if err != nil || id != "" {
		t.Fatalf("Lookup after release = (%q, %v), want empty", id, err)
	}
	// releasing an already free slot is a no-op
	if err := s.Release(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Release idempotent: %v", err)
	}
}

func TestListActiveDropsStaleEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Register(ctx, "owner-a", "run-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(ctx, "owner-b", "run-2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Release(ctx, "owner-b", "run-2"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	owners, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(owners) != 1 || owners[0] != "owner-a" {
		t.Fatalf("ListActive = %v, want [owner-a]", owners)
	}
}
