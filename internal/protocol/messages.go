// Package protocol defines the wire envelopes exchanged between a client
// and the document session over the abstract bidirectional message
// channel (spec.md §6). It is a direct trim of kolabpad's tagged-union
// ClientMsg/ServerMsg pattern down to the six OT control envelopes plus
// InitialState — presence, cursors, language and OTP fields are dropped
// with them, per spec.md §1's Non-goals.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/otsync/otsync/pkg/ot"
)

// PushMsg is sent by a client claiming its operation applies to Revision.
type PushMsg struct {
	Revision int           `json:"revision"`
	Op       *ot.Operation `json:"op"`
}

// PullMsg requests history since Revision.
type PullMsg struct {
	Revision int `json:"revision"`
}

// ClientMsg is a tagged union of messages sent from client to server.
// Exactly one field should be set per message.
type ClientMsg struct {
	Push *PushMsg `json:"Push,omitempty"`
	Pull *PullMsg `json:"Pull,omitempty"`
}

// UnmarshalJSON decodes whichever single variant is present.
func (m *ClientMsg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ot.ErrDecode, err)
	}

	if pushData, ok := raw["Push"]; ok {
		var push PushMsg
		if err := json.Unmarshal(pushData, &push); err != nil {
			return fmt.Errorf("%w: decoding Push: %v", ot.ErrDecode, err)
		}
		m.Push = &push
	}
	if pullData, ok := raw["Pull"]; ok {
		var pull PullMsg
		if err := json.Unmarshal(pullData, &pull); err != nil {
			return fmt.Errorf("%w: decoding Pull: %v", ot.ErrDecode, err)
		}
		m.Pull = &pull
	}
	return nil
}

// AckMsg acknowledges a push, carrying the new revision.
type AckMsg struct {
	Revision int `json:"revision"`
}

// UpdateMsg is broadcast to every session but the pushing client's own.
type UpdateMsg struct {
	Revision int           `json:"revision"`
	Op       *ot.Operation `json:"op"`
}

// HistoryMsg answers a Pull (or a detected out-of-order Update) with the
// operations since StartRevision, plus the authoritative current state a
// client can fall back to if its own transform chain is broken.
type HistoryMsg struct {
	StartRevision   int             `json:"startRevision"`
	Ops             []*ot.Operation `json:"ops"`
	CurrentRevision int             `json:"currentRevision"`
	CurrentDocState string          `json:"currentDocState"`
}

// InitialStateMsg is sent once at session establishment.
type InitialStateMsg struct {
	Doc      string `json:"doc"`
	Revision int    `json:"revision"`
}

// ErrorMsg is a non-fatal protocol error; the client decides whether to
// pull or ignore it.
type ErrorMsg struct {
	Message string `json:"message"`
}

// ServerMsg is a tagged union of messages sent from server to client.
// Exactly one field should be set per message.
type ServerMsg struct {
	InitialState *InitialStateMsg `json:"InitialState,omitempty"`
	Ack          *AckMsg          `json:"Ack,omitempty"`
	Update       *UpdateMsg       `json:"Update,omitempty"`
	History      *HistoryMsg      `json:"History,omitempty"`
	Error        *ErrorMsg        `json:"Error,omitempty"`
}

// MarshalJSON ensures only the one populated variant reaches the wire,
// mirroring kolabpad's ServerMsg.MarshalJSON.
func (m *ServerMsg) MarshalJSON() ([]byte, error) {
	result := make(map[string]any, 1)
	switch {
	case m.InitialState != nil:
		result["InitialState"] = m.InitialState
	case m.Ack != nil:
		result["Ack"] = m.Ack
	case m.Update != nil:
		result["Update"] = m.Update
	case m.History != nil:
		result["History"] = m.History
	case m.Error != nil:
		result["Error"] = m.Error
	}
	return json.Marshal(result)
}

// UnmarshalJSON decodes whichever single variant is present; used by the
// reference CLI client in cmd/otsyncctl.
func (m *ServerMsg) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ot.ErrDecode, err)
	}

	if v, ok := raw["InitialState"]; ok {
		var s InitialStateMsg
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("%w: decoding InitialState: %v", ot.ErrDecode, err)
		}
		m.InitialState = &s
	}
	if v, ok := raw["Ack"]; ok {
		var a AckMsg
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("%w: decoding Ack: %v", ot.ErrDecode, err)
		}
		m.Ack = &a
	}
	if v, ok := raw["Update"]; ok {
		var u UpdateMsg
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("%w: decoding Update: %v", ot.ErrDecode, err)
		}
		m.Update = &u
	}
	if v, ok := raw["History"]; ok {
		var h HistoryMsg
		if err := json.Unmarshal(v, &h); err != nil {
			return fmt.Errorf("%w: decoding History: %v", ot.ErrDecode, err)
		}
		m.History = &h
	}
	if v, ok := raw["Error"]; ok {
		var e ErrorMsg
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("%w: decoding Error: %v", ot.ErrDecode, err)
		}
		m.Error = &e
	}
	return nil
}

// Helper constructors, mirroring kolabpad's NewXxxMsg functions.

func NewInitialStateMsg(doc string, revision int) *ServerMsg {
	return &ServerMsg{InitialState: &InitialStateMsg{Doc: doc, Revision: revision}}
}

func NewAckMsg(revision int) *ServerMsg {
	return &ServerMsg{Ack: &AckMsg{Revision: revision}}
}

func NewUpdateMsg(revision int, op *ot.Operation) *ServerMsg {
	return &ServerMsg{Update: &UpdateMsg{Revision: revision, Op: op}}
}

func NewHistoryMsg(startRevision int, ops []*ot.Operation, currentRevision int, currentDocState string) *ServerMsg {
	return &ServerMsg{History: &HistoryMsg{
		StartRevision:   startRevision,
		Ops:             ops,
		CurrentRevision: currentRevision,
		CurrentDocState: currentDocState,
	}}
}

func NewErrorMsg(format string, args ...any) *ServerMsg {
	return &ServerMsg{Error: &ErrorMsg{Message: fmt.Sprintf(format, args...)}}
}
