package session

import (
	"context"
	"errors"
	"testing"

	"github.com/otsync/otsync/pkg/ot"
)

type memStore struct {
	saved map[string]*Snapshot
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]*Snapshot)} }

func (m *memStore) Load(id string) (*Snapshot, error) { return m.saved[id], nil }

func (m *memStore) Save(id string, snap *Snapshot) error {
	m.saved[id] = snap
	return nil
}

func TestApplyPushAdvancesRevisionAndPersists(t *testing.T) {
	store := newMemStore()
	s := New("doc1", 1<<20, 16, store)
	ctx := context.Background()

	rev, err := s.ApplyPush(ctx, 0, ot.New().Insert("hello"))
	if err != nil {
		t.Fatalf("ApplyPush: %v", err)
	}
	if rev != 1 {
		t.Fatalf("revision = %d, want 1", rev)
	}
	if s.Content() != "hello" {
		t.Fatalf("content = %q, want %q", s.Content(), "hello")
	}
	if store.saved["doc1"].Revision != 1 {
		t.Fatalf("persisted revision = %d, want 1", store.saved["doc1"].Revision)
	}
}

func TestApplyPushTransformsAgainstHistory(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	ctx := context.Background()

	if _, err := s.ApplyPush(ctx, 0, ot.New().Insert("abcdef")); err != nil {
		t.Fatalf("ApplyPush 1: %v", err)
	}

	// Both clients start from revision 1 ("abcdef").
	x := ot.New().Retain(1).Insert("X").Retain(5)
	y := ot.New().Retain(4).Insert("Y").Retain(2)

	if _, err := s.ApplyPush(ctx, 1, x); err != nil {
		t.Fatalf("ApplyPush x: %v", err)
	}
	revY, err := s.ApplyPush(ctx, 1, y)
	if err != nil {
		t.Fatalf("ApplyPush y: %v", err)
	}
	if revY != 3 {
		t.Fatalf("revision = %d, want 3", revY)
	}
	if s.Content() != "aXbcdYef" {
		t.Fatalf("content = %q, want %q", s.Content(), "aXbcdYef")
	}
}

func TestApplyPushRejectsFutureRevision(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	if _, err := s.ApplyPush(context.Background(), 5, ot.New()); err == nil {
		t.Fatal("expected error for future revision")
	}
}

func TestApplyPushRejectsOversizedDocument(t *testing.T) {
	s := New("doc1", 4, 16, nil)
	if _, err := s.ApplyPush(context.Background(), 0, ot.New().Insert("too long")); err == nil {
		t.Fatal("expected error for oversized document")
	}
}

func TestApplyPushDegradesSessionOnHistoryInconsistency(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	ctx := context.Background()

	if _, err := s.ApplyPush(ctx, 0, ot.New().Insert("abc")); err != nil {
		t.Fatalf("ApplyPush: %v", err)
	}

	// Corrupt the recorded history so the next transform-against-history
	// hits a base-length mismatch, simulating the kind of inconsistency
	// spec.md §4.B.1 step 3 requires treated as unrecoverable in-process.
	s.history[0] = ot.New().Retain(5)

	if _, err := s.ApplyPush(ctx, 0, ot.New().Insert("X")); !errors.Is(err, ErrHistoryInconsistency) {
		t.Fatalf("ApplyPush: err = %v, want ErrHistoryInconsistency", err)
	}
	if !s.Degraded() {
		t.Fatal("expected session to be marked degraded")
	}

	// Every subsequent push is rejected, even one that would otherwise
	// be perfectly valid.
	if _, err := s.ApplyPush(ctx, 0, ot.New().Insert("Y")); !errors.Is(err, ErrHistoryInconsistency) {
		t.Fatalf("ApplyPush after degrade: err = %v, want ErrHistoryInconsistency", err)
	}
}

func TestApplyPullReturnsOpsSinceRevision(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	ctx := context.Background()
	s.ApplyPush(ctx, 0, ot.New().Insert("a"))
	s.ApplyPush(ctx, 1, ot.New().Retain(1).Insert("b"))
	s.ApplyPush(ctx, 2, ot.New().Retain(2).Insert("c"))

	hist, err := s.ApplyPull(1)
	if err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}
	if hist.StartRevision != 2 || hist.CurrentRevision != 3 {
		t.Fatalf("hist = %+v", hist)
	}
	if len(hist.Ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(hist.Ops))
	}
	if hist.CurrentDocState != "abc" {
		t.Fatalf("currentDocState = %q, want %q", hist.CurrentDocState, "abc")
	}
}

func TestCompactHistoryForcesResetOnStalePull(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	ctx := context.Background()
	s.ApplyPush(ctx, 0, ot.New().Insert("a"))
	s.ApplyPush(ctx, 1, ot.New().Retain(1).Insert("b"))
	s.ApplyPush(ctx, 2, ot.New().Retain(2).Insert("c"))

	s.CompactHistory(1)
	if s.Revision() != 3 {
		t.Fatalf("Revision() = %d, want 3 (compaction must not change the revision counter)", s.Revision())
	}

	hist, err := s.ApplyPull(0)
	if err != nil {
		t.Fatalf("ApplyPull: %v", err)
	}
	if hist.StartRevision == 1 {
		t.Fatal("expected a startRevision that forces an authoritative reset, got the real value")
	}
	if hist.CurrentDocState != "abc" {
		t.Fatalf("currentDocState = %q, want %q", hist.CurrentDocState, "abc")
	}

	// A pull at or after the compacted boundary still succeeds normally.
	hist2, err := s.ApplyPull(2)
	if err != nil {
		t.Fatalf("ApplyPull(2): %v", err)
	}
	if len(hist2.Ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(hist2.Ops))
	}
}

func TestApplyPullRejectsFutureRevision(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	if _, err := s.ApplyPull(3); err == nil {
		t.Fatal("expected error for future revision")
	}
}

func TestSubscribeReceivesBroadcastUpdate(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	_, ch := s.Subscribe()

	if _, err := s.ApplyPush(context.Background(), 0, ot.New().Insert("hi")); err != nil {
		t.Fatalf("ApplyPush: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Update == nil || msg.Update.Revision != 1 {
			t.Fatalf("unexpected broadcast: %+v", msg)
		}
	default:
		t.Fatal("expected a buffered broadcast message")
	}
}

func TestKillClosesSubscribersAndNotify(t *testing.T) {
	s := New("doc1", 1<<20, 16, nil)
	_, ch := s.Subscribe()
	notify := s.NotifyChannel()

	s.Kill()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
	select {
	case <-notify:
	default:
		t.Fatal("expected notify channel to be closed")
	}
	if !s.Killed() {
		t.Fatal("expected Killed() to be true")
	}
}
