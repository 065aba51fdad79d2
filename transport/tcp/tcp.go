// Package tcp serves the objtalk wire protocol over line-delimited JSON
// TCP connections: an accept loop hands each connection to its own
// goroutine pair (read loop, write loop), the same split the corpus's
// network.Listener uses for its connection pool.
package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/event"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/protocol"
)

// Server accepts TCP connections and serves the objtalk protocol on each.
type Server struct {
	addr       string
	broker     *broker.Broker
	log        logger.Logger
	outboxSize int

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer returns a Server bound to nothing yet; call Serve to listen.
func NewServer(addr string, b *broker.Broker, log logger.Logger, outboxSize int) *Server {
	return &Server{addr: addr, broker: b, log: log, outboxSize: outboxSize}
}

// Serve opens the listener and runs the accept loop until ctx is
// canceled or the listener errors. It closes the listener on return.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("tcp listener started", "addr", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn owns one connection end to end: registers a client id with
// the broker, runs a read loop decoding requests and a write loop
// draining the outbox, and tears both down together on either side's
// exit.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
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
	writeLine := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write(append(data, '\n'))
		return err
	}

	go func() {
		defer cancel()
		for {
			select {
			case n, ok := <-outbox.C():
				if !ok {
					// The broker dropped this session (e.g. a saturated
					// outbox): force the read loop off its blocking read.
					conn.Close()
					return
				}
				data, err := protocol.EncodeNotification(n)
				if err != nil {
					continue
				}
				if writeLine(data) != nil {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	// Requests are dispatched one goroutine each, not inline in the read
	// loop: a parked invoke must not stall reading (or answering) any
	// other request pipelined on the same connection.
	var inflight sync.WaitGroup
	defer func() {
		cancel() // unpark any invoke still in flight before waiting on it
		inflight.Wait()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if connCtx.Err() != nil {
			return
		}
		line := append([]byte(nil), scanner.Bytes()...)

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			data, _ := json.Marshal(protocol.Response{Error: "MalformedRequest"})
			if writeLine(data) != nil {
				return
			}
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			resp := protocol.Dispatch(connCtx, s.broker, clientID, req)
			data, err := json.Marshal(resp)
			if err != nil {
				return
			}
			writeLine(data)
		}()
	}
}
