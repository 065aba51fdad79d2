package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/protocol"
	"github.com/objtalk/objtalk/store"
)

func testBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b := broker.New(store.NewMemory(), logger.NewSlogLogger(slog.LevelError, io.Discard))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWS_SetThenGet(t *testing.T) {
	b := testBroker(t)
	s := NewServer("", b, logger.NewSlogLogger(slog.LevelError, io.Discard), 16)
	httpSrv := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)

	if err := conn.WriteJSON(protocol.Request{
		ID:    json.RawMessage("1"),
		Type:  "set",
		Name:  "a",
		Value: json.RawMessage("42"),
	}); err != nil {
		t.Fatalf("WriteJSON set: %v", err)
	}
	var setResp protocol.Response
	if err := conn.ReadJSON(&setResp); err != nil {
		t.Fatalf("ReadJSON set: %v", err)
	}
	if setResp.Error != "" {
		t.Fatalf("set failed: %s", setResp.Error)
	}

	if err := conn.WriteJSON(protocol.Request{
		ID:      json.RawMessage("2"),
		Type:    "get",
		Pattern: "*",
	}); err != nil {
		t.Fatalf("WriteJSON get: %v", err)
	}
	var getResp protocol.Response
	if err := conn.ReadJSON(&getResp); err != nil {
		t.Fatalf("ReadJSON get: %v", err)
	}
	if getResp.Error != "" {
		t.Fatalf("get failed: %s", getResp.Error)
	}
}

func TestServeWS_QueryPushesNotification(t *testing.T) {
	b := testBroker(t)
	s := NewServer("", b, logger.NewSlogLogger(slog.LevelError, io.Discard), 16)
	httpSrv := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)

	if err := conn.WriteJSON(protocol.Request{ID: json.RawMessage("1"), Type: "query", Pattern: "*"}); err != nil {
		t.Fatalf("WriteJSON query: %v", err)
	}
	var queryResp protocol.Response
	if err := conn.ReadJSON(&queryResp); err != nil {
		t.Fatalf("ReadJSON query: %v", err)
	}
	if queryResp.Error != "" {
		t.Fatalf("query failed: %s", queryResp.Error)
	}

	conn2 := dial(t, httpSrv)
	if err := conn2.WriteJSON(protocol.Request{ID: json.RawMessage("1"), Type: "set", Name: "a", Value: json.RawMessage("1")}); err != nil {
		t.Fatalf("WriteJSON set from conn2: %v", err)
	}
	var setResp protocol.Response
	if err := conn2.ReadJSON(&setResp); err != nil {
		t.Fatalf("ReadJSON set from conn2: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var notif struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&notif); err != nil {
		t.Fatalf("ReadJSON notification: %v", err)
	}
	if notif.Type != "queryAdd" {
		t.Fatalf("notification type = %q, want queryAdd", notif.Type)
	}
}

func TestServeWS_MalformedFrameGetsErrorResponse(t *testing.T) {
	b := testBroker(t)
	s := NewServer("", b, logger.NewSlogLogger(slog.LevelError, io.Discard), 16)
	httpSrv := httptest.NewServer(http.HandlerFunc(s.handleUpgrade))
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var resp protocol.Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp.Error != "MalformedRequest" {
		t.Fatalf("Error = %q, want MalformedRequest", resp.Error)
	}
}
