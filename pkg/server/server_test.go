package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/otsync/otsync/internal/protocol"
	"github.com/otsync/otsync/pkg/ot"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	const (
		maxDocumentSize     = 256 * 1024
		broadcastBufferSize = 256
		wsReadTimeout       = 5 * time.Minute
		wsWriteTimeout      = 5 * time.Second
	)
	return NewServer(nil, maxDocumentSize, broadcastBufferSize, wsReadTimeout, wsWriteTimeout)
}

func connectWebSocket(t *testing.T, ts *httptest.Server, docID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/" + docID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readServerMsg(t *testing.T, conn *websocket.Conn) *protocol.ServerMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg protocol.ServerMsg
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return &msg
}

func sendClientMsg(t *testing.T, conn *websocket.Conn, msg *protocol.ClientMsg) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConnectReceivesInitialState(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-a")
	msg := readServerMsg(t, conn)
	if msg.InitialState == nil {
		t.Fatalf("expected InitialState, got %+v", msg)
	}
	if msg.InitialState.Doc != "" || msg.InitialState.Revision != 0 {
		t.Fatalf("expected empty doc at revision 0, got %+v", msg.InitialState)
	}
}

func TestPushIsAckedAndBroadcastToOthers(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn1 := connectWebSocket(t, ts, "doc-b")
	readServerMsg(t, conn1) // InitialState
	conn2 := connectWebSocket(t, ts, "doc-b")
	readServerMsg(t, conn2) // InitialState

	sendClientMsg(t, conn1, &protocol.ClientMsg{Push: &protocol.PushMsg{
		Revision: 0,
		Op:       ot.New().Insert("hello"),
	}})

	ack := readServerMsg(t, conn1)
	if ack.Ack == nil || ack.Ack.Revision != 1 {
		t.Fatalf("expected Ack(1), got %+v", ack)
	}

	update := readServerMsg(t, conn2)
	if update.Update == nil || update.Update.Revision != 1 {
		t.Fatalf("expected Update(1), got %+v", update)
	}
}

func TestConcurrentPushesConverge(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn1 := connectWebSocket(t, ts, "doc-c")
	readServerMsg(t, conn1)
	conn2 := connectWebSocket(t, ts, "doc-c")
	readServerMsg(t, conn2)

	sendClientMsg(t, conn1, &protocol.ClientMsg{Push: &protocol.PushMsg{
		Revision: 0, Op: ot.New().Insert("hello"),
	}})
	readServerMsg(t, conn1) // Ack
	readServerMsg(t, conn2) // Update

	sendClientMsg(t, conn2, &protocol.ClientMsg{Push: &protocol.PushMsg{
		Revision: 1, Op: ot.New().Retain(5).Insert(" world"),
	}})
	readServerMsg(t, conn2) // Ack
	readServerMsg(t, conn1) // Update

	if val, ok := server.state.documents.Load("doc-c"); ok {
		if text := val.(*Document).Session.Content(); text != "hello world" {
			t.Errorf("content = %q, want %q", text, "hello world")
		}
	} else {
		t.Fatal("document not found in server state")
	}
}

func TestPullReturnsHistorySinceRevision(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-d")
	readServerMsg(t, conn)

	sendClientMsg(t, conn, &protocol.ClientMsg{Push: &protocol.PushMsg{Revision: 0, Op: ot.New().Insert("a")}})
	readServerMsg(t, conn) // Ack
	sendClientMsg(t, conn, &protocol.ClientMsg{Push: &protocol.PushMsg{Revision: 1, Op: ot.New().Retain(1).Insert("b")}})
	readServerMsg(t, conn) // Ack

	sendClientMsg(t, conn, &protocol.ClientMsg{Pull: &protocol.PullMsg{Revision: 0}})
	hist := readServerMsg(t, conn)
	if hist.History == nil {
		t.Fatalf("expected History, got %+v", hist)
	}
	if hist.History.CurrentRevision != 2 || len(hist.History.Ops) != 2 {
		t.Fatalf("unexpected history: %+v", hist.History)
	}
	if hist.History.StartRevision != 1 {
		t.Fatalf("StartRevision = %d, want 1 (revision+1, so a client at revision 0 takes the incremental path)", hist.History.StartRevision)
	}
}

func TestInvalidRevisionReceivesError(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-e")
	readServerMsg(t, conn)

	sendClientMsg(t, conn, &protocol.ClientMsg{Push: &protocol.PushMsg{
		Revision: 999, Op: ot.New().Insert("x"),
	}})

	msg := readServerMsg(t, conn)
	if msg.Error == nil {
		t.Fatalf("expected Error message, got %+v", msg)
	}
}

func TestInvalidDocumentID(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/socket/"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail with empty document ID")
	}
	if resp != nil && resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestTextEndpointReflectsPushedContent(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-f")
	readServerMsg(t, conn)
	sendClientMsg(t, conn, &protocol.ClientMsg{Push: &protocol.PushMsg{Revision: 0, Op: ot.New().Insert("stored text")}})
	readServerMsg(t, conn)

	resp, err := http.Get(ts.URL + "/api/text/doc-f")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := resp.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if body.String() != "stored text" {
		t.Errorf("text = %q, want %q", body.String(), "stored text")
	}
}

func TestStatsEndpoint(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := connectWebSocket(t, ts, "doc-g")
	readServerMsg(t, conn)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.NumDocuments != 1 {
		t.Errorf("NumDocuments = %d, want 1", stats.NumDocuments)
	}
}

func TestNewDocumentEndpointMintsID(t *testing.T) {
	server := testServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/new", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID == "" {
		t.Fatal("expected non-empty minted document ID")
	}
}
