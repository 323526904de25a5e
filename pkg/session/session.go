// Package session implements the authoritative server-side document
// serializer (spec.md §5 / SPEC_FULL.md Component B): single-writer
// transform-against-history, durable-write-before-ack, and history
// replay for reconnecting or lagging clients.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otsync/otsync/internal/metrics"
	"github.com/otsync/otsync/internal/protocol"
	"github.com/otsync/otsync/pkg/logger"
	"github.com/otsync/otsync/pkg/ot"
)

// ErrRevisionInFuture is returned when a push or pull names a revision
// past the session's current history length. ApplyPush also returns it
// for a revision older than the oldest one its (compacted) history holds.
var ErrRevisionInFuture = errors.New("session: revision in future")

// ErrDocumentTooLarge is returned when applying an operation would grow
// the document past the configured maximum.
var ErrDocumentTooLarge = errors.New("session: document exceeds maximum size")

// ErrHistoryInconsistency is returned when a push's operation cannot be
// transformed against the session's recorded history. Per spec.md §4.B.1
// step 3 / §7, this marks the session degraded: every subsequent
// ApplyPush is rejected until the session is reloaded from storage,
// since the in-memory history can no longer be trusted to produce a
// correct transform.
var ErrHistoryInconsistency = errors.New("session: history inconsistency, document degraded")

// Store is the durability boundary a Session writes through. Save is
// called synchronously inside ApplyPush before the caller's ack is
// returned, so a Store implementation controls the durability/latency
// tradeoff of every push.
type Store interface {
	Load(id string) (*Snapshot, error)
	Save(id string, snap *Snapshot) error
}

// Snapshot is the durable state of one document: its current content,
// revision, and the operation log needed to replay history to lagging
// clients.
type Snapshot struct {
	Content  string
	Revision int
	History  []*ot.Operation
}

// Session is the authoritative OT serializer for a single document. All
// mutation flows through ApplyPush, which holds mu for the duration of the
// transform-and-write critical section, mirroring kolabpad.Kolabpad's
// single-writer-per-document model.
type Session struct {
	id  string
	mu  sync.RWMutex
	doc string
	history []*ot.Operation
	// baseRevision is the revision number of the op just before
	// history[0] — nonzero once CompactHistory has dropped old ops.
	baseRevision int

	store Store

	killed          atomic.Bool
	degraded        atomic.Bool
	lastEditTime    atomic.Int64
	subscribers     map[uint64]chan *protocol.ServerMsg
	notify          chan struct{}
	nextSubscriber  atomic.Uint64
	maxDocumentSize int
	subscriberBufSize int
}

// New creates a session for a freshly-created document.
func New(id string, maxDocumentSize, subscriberBufSize int, store Store) *Session {
	return &Session{
		id:                id,
		store:             store,
		subscribers:       make(map[uint64]chan *protocol.ServerMsg),
		notify:            make(chan struct{}),
		maxDocumentSize:   maxDocumentSize,
		subscriberBufSize: subscriberBufSize,
	}
}

// FromSnapshot restores a session from durable storage, per
// SPEC_FULL.md's persistence model (content + revision + history,
// rather than kolabpad's content-only snapshot).
func FromSnapshot(id string, snap *Snapshot, maxDocumentSize, subscriberBufSize int, store Store) *Session {
	s := New(id, maxDocumentSize, subscriberBufSize, store)
	s.doc = snap.Content
	s.history = append([]*ot.Operation(nil), snap.History...)
	s.baseRevision = snap.Revision - len(s.history)
	return s
}

// Content returns a copy of the current document text.
func (s *Session) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Revision returns the current revision number.
func (s *Session) Revision() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseRevision + len(s.history)
}

// Snapshot returns a copy of the session's durable state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		Content:  s.doc,
		Revision: s.baseRevision + len(s.history),
		History:  append([]*ot.Operation(nil), s.history...),
	}
}

// CompactHistory drops all but the most recent keep operations from
// history, advancing baseRevision accordingly. Per spec.md §5's
// resource-lifetime note, pulls from any revision at or after the new
// baseRevision continue to succeed; pulls from before it fall back to
// an authoritative reset (see ApplyPull).
func (s *Session) CompactHistory(keep int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) <= keep {
		return
	}
	drop := len(s.history) - keep
	s.baseRevision += drop
	s.history = append([]*ot.Operation(nil), s.history[drop:]...)
}

// LastEditTime reports when ApplyPush last succeeded, for idle-based
// document eviction.
func (s *Session) LastEditTime() time.Time {
	ts := s.lastEditTime.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Subscribe registers a channel that receives Update broadcasts for
// every op accepted after the subscriber connects.
func (s *Session) Subscribe() (id uint64, ch <-chan *protocol.ServerMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subID := s.nextSubscriber.Add(1) - 1
	c := make(chan *protocol.ServerMsg, s.subscriberBufSize)
	s.subscribers[subID] = c
	return subID, c
}

// Unsubscribe removes and closes a subscriber's channel.
func (s *Session) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// NotifyChannel returns the channel closed whenever new history is
// appended, letting a connection's read loop wake without polling.
func (s *Session) NotifyChannel() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notify
}

func (s *Session) broadcast(msg *protocol.ServerMsg) {
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
			logger.Error("session %s: dropping update for slow subscriber", s.id)
		}
	}
}

// ApplyPush is the server-side half of spec.md §5.2: it transforms the
// client's operation against every operation appended since the
// client's revision, rejects it on overflow, durably persists the new
// state, and only then appends to in-memory history and broadcasts —
// an ack therefore always implies the write survived a crash
// (Open Question 3 in SPEC_FULL.md, a deliberate change from kolabpad's
// fire-and-forget periodic persister).
func (s *Session) ApplyPush(ctx context.Context, revision int, op *ot.Operation) (newRevision int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded.Load() {
		return 0, ErrHistoryInconsistency
	}

	currentLen := s.baseRevision + len(s.history)
	if revision > currentLen || revision < s.baseRevision {
		return 0, fmt.Errorf("%w: got %d, current is %d", ErrRevisionInFuture, revision, currentLen)
	}

	transformed := op
	for _, histOp := range s.history[revision-s.baseRevision:] {
		aPrime, _, terr := ot.Transform(transformed, histOp)
		if terr != nil {
			s.degraded.Store(true)
			logger.Error("session %s: transform against history failed, marking degraded: %v", s.id, terr)
			return 0, fmt.Errorf("%w: %v", ErrHistoryInconsistency, terr)
		}
		transformed = aPrime
	}

	if transformed.TargetLen() > s.maxDocumentSize {
		return 0, fmt.Errorf("%w: %d runes", ErrDocumentTooLarge, transformed.TargetLen())
	}

	newDoc, aerr := transformed.Apply(s.doc)
	if aerr != nil {
		return 0, fmt.Errorf("session: apply: %w", aerr)
	}

	if s.store != nil {
		snap := &Snapshot{
			Content:  newDoc,
			Revision: currentLen + 1,
			History:  append(append([]*ot.Operation(nil), s.history...), transformed),
		}
		if err := s.store.Save(s.id, snap); err != nil {
			return 0, fmt.Errorf("session: durable write: %w", err)
		}
	}

	s.doc = newDoc
	s.history = append(s.history, transformed)
	s.lastEditTime.Store(time.Now().Unix())
	newRevision = s.baseRevision + len(s.history)

	metrics.RecordPush(s.id, newRevision)

	if !s.killed.Load() {
		s.broadcast(protocol.NewUpdateMsg(newRevision, transformed))
		close(s.notify)
		s.notify = make(chan struct{})
	}

	return newRevision, nil
}

// ApplyPull answers spec.md §5.3: operations since revision, or, if
// revision predates what the session retains, the authoritative
// current document so the caller can reset rather than replay.
func (s *Session) ApplyPull(revision int) (*protocol.HistoryMsg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	currentLen := s.baseRevision + len(s.history)
	if revision > currentLen {
		return nil, fmt.Errorf("%w: got %d, current is %d", ErrRevisionInFuture, revision, currentLen)
	}

	metrics.RecordPull(s.id)

	if revision < s.baseRevision {
		// The requested range has been compacted away. Return a
		// startRevision a caller's serverRevision+1 can never match,
		// forcing the spec.md §4.C.4 authoritative-reset fallback
		// instead of attempting a partial (and impossible) replay.
		return &protocol.HistoryMsg{
			StartRevision:   currentLen + 1,
			Ops:             nil,
			CurrentRevision: currentLen,
			CurrentDocState: s.doc,
		}, nil
	}

	ops := append([]*ot.Operation(nil), s.history[revision-s.baseRevision:]...)
	return protocol.NewHistoryMsg(revision+1, ops, currentLen, s.doc).History, nil
}

// Kill disconnects every subscriber and marks the session dead, mirroring
// kolabpad.Kolabpad.Kill.
func (s *Session) Kill() {
	if s.killed.CompareAndSwap(false, true) {
		s.mu.Lock()
		for _, ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = make(map[uint64]chan *protocol.ServerMsg)
		close(s.notify)
		s.mu.Unlock()
	}
}

// Killed reports whether Kill has been called.
func (s *Session) Killed() bool {
	return s.killed.Load()
}

// Degraded reports whether a history-inconsistency has permanently
// disabled ApplyPush on this session instance (spec.md §4.B.1 step 3).
// Recovery requires constructing a fresh Session via FromSnapshot.
func (s *Session) Degraded() bool {
	return s.degraded.Load()
}
