// Package ws serves the objtalk wire protocol over WebSocket text
// frames: one reader goroutine and one writer goroutine per connection,
// the read-pump/write-pump split the corpus's websocket hubs use, with
// ping/pong keepalive driving the read deadline.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/event"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/protocol"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait bounds how long a connection may stay silent before it's
	// considered dead; pingPeriod must stay under it so a ping always
	// lands before the deadline expires.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single incoming frame.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades HTTP requests to WebSocket connections and serves the
// objtalk protocol on each.
type Server struct {
	addr       string
	broker     *broker.Broker
	log        logger.Logger
	outboxSize int

	httpServer *http.Server
}

// NewServer returns a Server bound to nothing yet; call Serve to listen.
func NewServer(addr string, b *broker.Broker, log logger.Logger, outboxSize int) *Server {
	return &Server{addr: addr, broker: b, log: log, outboxSize: outboxSize}
}

// Serve opens the listener and serves upgrade requests until ctx is
// canceled.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.Info("ws listener started", "addr", s.addr)
	select {
	case <-ctx.Done():
		s.httpServer.Close()
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}
	go s.handleConn(r.Context(), conn)
}

// handleConn owns one connection end to end, mirroring transport/tcp's
// handleConn: register a client id, run a write pump draining the
// outbox with ping keepalive, and a read pump decoding requests and
// dispatching each in its own goroutine so a parked invoke never stalls
// the rest of the connection's traffic.
func (s *Server) handleConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	clientID := uuid.NewString()
	outbox := event.NewChannelOutbox(s.outboxSize)
	if err := s.broker.RegisterClient(clientID, outbox); err != nil {
		s.log.Warn("RegisterClient failed", "clientId", clientID, "err", err)
		return
	}
	defer s.broker.Disconnect(clientID)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	writePing := func() error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PingMessage, nil)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.writePump(connCtx, cancel, conn, outbox, writeJSON, writePing)

	var inflight sync.WaitGroup
	defer func() {
		cancel() // unpark any invoke still in flight before waiting on it
		inflight.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if connCtx.Err() != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			if writeJSON(protocol.Response{Error: "MalformedRequest"}) != nil {
				return
			}
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			resp := protocol.Dispatch(connCtx, s.broker, clientID, req)
			writeJSON(resp)
		}()
	}
}

// writePump drains outbox notifications and drives the ping ticker. It
// never touches the connection's read side, so a slow or wedged writer
// can't block reads.
func (s *Server) writePump(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	outbox *event.ChannelOutbox,
	writeJSON func(any) error,
	writePing func() error,
) {
	defer cancel()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-outbox.C():
			if !ok {
				// The broker dropped this session; force the read pump
				// off its blocking read.
				conn.Close()
				return
			}
			if writeJSON(n) != nil {
				return
			}
		case <-ticker.C:
			if writePing() != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
