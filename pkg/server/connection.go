package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/otsync/otsync/internal/protocol"
	"github.com/otsync/otsync/pkg/logger"
	"github.com/otsync/otsync/pkg/session"
)

// Connection represents a single client WebSocket connection bound to
// one document session.
type Connection struct {
	session *session.Session
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	sendMu  sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConnection creates a new client connection handler.
func NewConnection(sess *session.Session, conn *websocket.Conn, readTimeout, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		session:      sess,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Handle manages the WebSocket connection lifecycle: send InitialState,
// subscribe to updates, then loop reading client messages until the
// socket closes.
func (c *Connection) Handle(ctx context.Context) error {
	subID, updates := c.session.Subscribe()
	defer c.cleanup(subID)

	if err := c.send(protocol.NewInitialStateMsg(c.session.Content(), c.session.Revision())); err != nil {
		return fmt.Errorf("send initial state: %w", err)
	}

	go c.forwardUpdates(updates)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		readCtx, readCancel := context.WithTimeout(ctx, c.readTimeout)
		var msg protocol.ClientMsg
		err := wsjson.Read(readCtx, c.conn, &msg)
		readCancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := c.handleMessage(ctx, &msg); err != nil {
			logger.Error("error handling client message: %v", err)
			c.send(protocol.NewErrorMsg("%v", err))
			if errors.Is(err, session.ErrHistoryInconsistency) {
				// The session is permanently rejecting pushes until it is
				// reloaded from storage; keep it that way rather than
				// let this connection carry on as if nothing happened.
				return err
			}
		}
	}
}

func (c *Connection) handleMessage(ctx context.Context, msg *protocol.ClientMsg) error {
	switch {
	case msg.Push != nil:
		newRevision, err := c.session.ApplyPush(ctx, msg.Push.Revision, msg.Push.Op)
		if err != nil {
			return fmt.Errorf("apply push: %w", err)
		}
		return c.send(protocol.NewAckMsg(newRevision))

	case msg.Pull != nil:
		hist, err := c.session.ApplyPull(msg.Pull.Revision)
		if err != nil {
			return fmt.Errorf("apply pull: %w", err)
		}
		return c.send(&protocol.ServerMsg{History: hist})

	default:
		return errors.New("empty client message")
	}
}

// forwardUpdates relays broadcast messages from the session's
// subscriber channel to this connection, stopping on context
// cancellation or channel close (session killed / unsubscribed).
func (c *Connection) forwardUpdates(updates <-chan *protocol.ServerMsg) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				c.cancel()
				return
			}
			if err := c.send(msg); err != nil {
				logger.Error("error forwarding update: %v", err)
				c.cancel()
				return
			}
		}
	}
}

func (c *Connection) send(msg *protocol.ServerMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	writeCtx, writeCancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer writeCancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Connection) cleanup(subID uint64) {
	c.session.Unsubscribe(subID)
	c.cancel()
}
