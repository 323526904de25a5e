// Package client implements the cooperative client-side sync state
// machine from spec.md §4.C: the single-writer FSM that keeps a local
// editor buffer converging with the server's authoritative revision
// stream. Grounded on kolabpad's single-mutex-over-struct-state idiom
// (pkg/server/kolabpad.go's Kolabpad), adapted to a client's five
// states instead of a server's revision log.
package client

import (
	"fmt"
	"sync"

	"github.com/otsync/otsync/internal/protocol"
	"github.com/otsync/otsync/pkg/logger"
	"github.com/otsync/otsync/pkg/ot"
)

// State is one of the five sync states from spec.md §4.C.
type State int

const (
	Initializing State = iota
	Synchronized
	Dirty
	AwaitingPush
	AwaitingPull
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Synchronized:
		return "Synchronized"
	case Dirty:
		return "Dirty"
	case AwaitingPush:
		return "AwaitingPush"
	case AwaitingPull:
		return "AwaitingPull"
	default:
		return "Unknown"
	}
}

// Transport is the outbound half of the client's abstract channel; a
// real binary implements it over a websocket (cmd/otsyncctl's watch
// subcommand), a test implements it by recording the calls.
type Transport interface {
	SendPush(revision int, op *ot.Operation) error
	SendPull(revision int) error
}

// Client holds one document's sync state. All methods lock mu, matching
// spec.md §5's requirement that a single-threaded client introduce a
// mutex if its runtime is actually multi-threaded.
type Client struct {
	mu sync.Mutex

	transport Transport

	state State

	syncedDoc      string
	virtualDoc     string
	serverRevision int

	outstandingOp *ot.Operation
	bufferedOp    *ot.Operation
	updateQueue   []*protocol.UpdateMsg
}

// New creates a client in the Initializing state, awaiting InitialState.
func New(transport Transport) *Client {
	return &Client{transport: transport, state: Initializing}
}

// State returns the client's current sync state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// VirtualDoc returns the client's current (possibly locally-edited)
// view of the document.
func (c *Client) VirtualDoc() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualDoc
}

// HandleInitialState processes the one-time InitialState message,
// transitioning Initializing → Synchronized.
func (c *Client) HandleInitialState(msg *protocol.InitialStateMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncedDoc = msg.Doc
	c.virtualDoc = msg.Doc
	c.serverRevision = msg.Revision
	c.outstandingOp = nil
	c.bufferedOp = nil
	c.updateQueue = nil
	c.state = Synchronized
}

// ApplyLocalEdit integrates an editor delta per spec.md §4.C.1. d must
// already be shaped against len(virtualDoc) (a Retain prefix to the
// edit point, the Insert/Delete, a trailing Retain to the end).
func (c *Client) ApplyLocalEdit(d *ot.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.IsNoop() {
		return nil
	}
	if d.BaseLen() != len([]rune(c.virtualDoc)) {
		return fmt.Errorf("client: local edit base length %d does not match virtualDoc length %d", d.BaseLen(), len([]rune(c.virtualDoc)))
	}

	if c.bufferedOp != nil {
		composed, err := c.bufferedOp.Compose(d)
		if err != nil {
			return fmt.Errorf("client: compose local edit: %w", err)
		}
		c.bufferedOp = composed
	} else {
		c.bufferedOp = d
	}

	newVirtual, err := d.Apply(c.virtualDoc)
	if err != nil {
		return fmt.Errorf("client: apply local edit: %w", err)
	}
	c.virtualDoc = newVirtual

	if c.state != AwaitingPush {
		if c.virtualDoc == c.syncedDoc && c.outstandingOp == nil {
			c.state = Synchronized
		} else {
			c.state = Dirty
		}
	}
	return nil
}

// Tick runs the auto-push precondition/action of spec.md §4.C.5.
func (c *Client) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryPushLocked()
}

func (c *Client) tryPushLocked() error {
	if c.state == Initializing || c.state == AwaitingPush {
		return nil
	}
	if c.bufferedOp == nil || c.bufferedOp.IsNoop() {
		return nil
	}

	op := c.bufferedOp
	c.outstandingOp = op
	c.bufferedOp = nil
	c.state = AwaitingPush

	if err := c.transport.SendPush(c.serverRevision, op); err != nil {
		return fmt.Errorf("client: send push: %w", err)
	}
	return nil
}

// HandleUpdate processes a server Update message. Dispatches between
// §4.C.2 (idle) and §4.C.3 (awaiting an ack) per the current state.
func (c *Client) HandleUpdate(msg *protocol.UpdateMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == AwaitingPush {
		c.updateQueue = append(c.updateQueue, msg)
		return nil
	}
	return c.applyRemoteUpdateLocked(msg)
}

// applyRemoteUpdateLocked implements spec.md §4.C.2 exactly, including
// the intermediate-value subtlety of step 3 (Open Question 1): syncedDoc
// must be updated with s as it stands right after the outstandingOp
// transform (step 1) and before the bufferedOp transform (step 2),
// because syncedDoc has not yet absorbed outstandingOp.
func (c *Client) applyRemoteUpdateLocked(msg *protocol.UpdateMsg) error {
	if msg.Revision != c.serverRevision+1 {
		return c.pullLocked()
	}

	s := msg.Op

	if c.outstandingOp != nil {
		if s.BaseLen() != c.outstandingOp.BaseLen() {
			logger.Error("client: outstandingOp base length mismatch, pulling")
			return c.pullLocked()
		}
		sPrime, outstandingPrime, err := ot.Transform(s, c.outstandingOp)
		if err != nil {
			logger.Error("client: transform against outstandingOp failed: %v, pulling", err)
			return c.pullLocked()
		}
		s = sPrime
		c.outstandingOp = outstandingPrime
	}

	// s after step 1, before step 2 — the value syncedDoc must apply.
	sAfterStep1 := s

	if c.bufferedOp != nil {
		if s.BaseLen() != c.bufferedOp.BaseLen() {
			logger.Error("client: bufferedOp base length mismatch, pulling")
			return c.pullLocked()
		}
		sPrime, bufferedPrime, err := ot.Transform(s, c.bufferedOp)
		if err != nil {
			logger.Error("client: transform against bufferedOp failed: %v, pulling", err)
			return c.pullLocked()
		}
		s = sPrime
		c.bufferedOp = bufferedPrime
	}

	newSynced, err := sAfterStep1.Apply(c.syncedDoc)
	if err != nil {
		logger.Error("client: apply to syncedDoc failed: %v, pulling", err)
		return c.pullLocked()
	}
	c.syncedDoc = newSynced

	newVirtual, err := s.Apply(c.virtualDoc)
	if err != nil {
		logger.Error("client: apply to virtualDoc failed: %v, pulling", err)
		return c.pullLocked()
	}
	c.virtualDoc = newVirtual

	c.serverRevision = msg.Revision
	c.reconcileStateLocked()
	return nil
}

func (c *Client) reconcileStateLocked() {
	switch {
	case c.outstandingOp != nil:
		c.state = AwaitingPush
	case (c.bufferedOp != nil && !c.bufferedOp.IsNoop()) || c.virtualDoc != c.syncedDoc:
		c.state = Dirty
	default:
		c.state = Synchronized
	}
}

func (c *Client) pullLocked() error {
	c.state = AwaitingPull
	c.updateQueue = nil
	if err := c.transport.SendPull(c.serverRevision); err != nil {
		return fmt.Errorf("client: send pull: %w", err)
	}
	return nil
}

// HandleAck processes a server Ack per spec.md §4.C.3: applies
// outstandingOp to syncedDoc, clears it, then drains updateQueue
// through §4.C.2. If draining triggers a pull, the remaining queue is
// discarded (pullLocked already does this).
func (c *Client) HandleAck(msg *protocol.AckMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outstandingOp == nil {
		return fmt.Errorf("client: received Ack with no outstanding push")
	}

	newSynced, err := c.outstandingOp.Apply(c.syncedDoc)
	if err != nil {
		return fmt.Errorf("client: apply outstandingOp to syncedDoc: %w", err)
	}
	c.syncedDoc = newSynced
	c.outstandingOp = nil
	c.serverRevision = msg.Revision

	c.reconcileStateLocked()

	queue := c.updateQueue
	c.updateQueue = nil
	for _, u := range queue {
		if c.state == AwaitingPull {
			break
		}
		if err := c.applyRemoteUpdateLocked(u); err != nil {
			return err
		}
	}
	return nil
}

// HandleHistory processes a History message per spec.md §4.C.4. On any
// inconsistency (wrong startRevision or a mid-sequence transform
// failure) it falls back to an authoritative reset (Open Question 2),
// rather than attempting partial recovery.
func (c *Client) HandleHistory(msg *protocol.HistoryMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.StartRevision != c.serverRevision+1 {
		c.resetFromHistoryLocked(msg)
		return nil
	}

	rev := msg.StartRevision
	for _, op := range msg.Ops {
		update := &protocol.UpdateMsg{Revision: rev, Op: op}
		if err := c.applyRemoteUpdateLocked(update); err != nil {
			c.resetFromHistoryLocked(msg)
			return nil
		}
		if c.state == AwaitingPull {
			// applyRemoteUpdateLocked hit a length mismatch or a
			// transform/apply failure; stop replaying and take the
			// authoritative state instead.
			c.resetFromHistoryLocked(msg)
			return nil
		}
		rev++
	}
	return nil
}

func (c *Client) resetFromHistoryLocked(msg *protocol.HistoryMsg) {
	c.syncedDoc = msg.CurrentDocState
	c.virtualDoc = msg.CurrentDocState
	c.outstandingOp = nil
	c.bufferedOp = nil
	c.updateQueue = nil
	c.serverRevision = msg.CurrentRevision
	c.state = Synchronized
}
