// Package http serves the objtalk REST surface described in spec.md §6:
// plain request/response endpoints for set/patch/remove/get/emit/invoke,
// plus a Server-Sent Events stream for query subscriptions, modeled on
// the corpus's writeFlusher-based SSE handlers.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/event"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/protocol"
)

// keepAliveInterval bounds how long an idle SSE stream goes without a
// comment line, so intermediate proxies don't time it out.
const keepAliveInterval = 15 * time.Second

// Server exposes the broker over plain HTTP request/response endpoints
// and an SSE stream for live queries.
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

// Serve opens the listener and serves requests until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /objects/{name}", s.handleSet)
	mux.HandleFunc("PATCH /objects/{name}", s.handlePatch)
	mux.HandleFunc("DELETE /objects/{name}", s.handleRemove)
	mux.HandleFunc("GET /query", s.handleQuery)
	mux.HandleFunc("POST /events/{object}", s.handleEmit)
	mux.HandleFunc("POST /invoke/{object}", s.handleInvoke)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.Info("http listener started", "addr", s.addr)
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

// readJSONValue reads r's body and reports whether it's a syntactically
// valid JSON document. TCP and WS get this check for free: decoding a
// request envelope into a json.RawMessage field already requires the
// sub-document to be valid JSON. An HTTP body arrives as raw bytes with
// no such envelope, so it's validated by hand before it ever reaches the
// broker — a malformed value would otherwise be stored or forwarded
// verbatim and break every later JSON encoding of it, on every transport.
func readJSONValue(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if !json.Valid(data) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": string(broker.KindMalformedRequest)})
		return nil, false
	}
	return json.RawMessage(data), true
}

// withClient gives the request its own transient client identity: unlike
// TCP/WS, a REST call has no session to reuse across requests, so every
// request registers, acts and disconnects in turn.
func (s *Server) withClient(w http.ResponseWriter, r *http.Request, fn func(clientID string) error) {
	clientID := uuid.NewString()
	outbox := event.NewChannelOutbox(1)
	if err := s.broker.RegisterClient(clientID, outbox); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.broker.Disconnect(clientID)

	if err := fn(clientID); err != nil {
		writeError(w, err)
		return
	}
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, ok := readJSONValue(w, r)
	if !ok {
		return
	}
	s.withClient(w, r, func(clientID string) error {
		if err := s.broker.Set(r.Context(), clientID, name, value); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return nil
	})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, ok := readJSONValue(w, r)
	if !ok {
		return
	}
	s.withClient(w, r, func(clientID string) error {
		if err := s.broker.Patch(r.Context(), clientID, name, value); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return nil
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.withClient(w, r, func(clientID string) error {
		existed, err := s.broker.Remove(r.Context(), clientID, name)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]bool{"existed": existed})
		return nil
	})
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	object := r.PathValue("object")
	eventName := r.URL.Query().Get("event")
	data, ok := readJSONValue(w, r)
	if !ok {
		return
	}
	s.withClient(w, r, func(clientID string) error {
		if err := s.broker.Emit(clientID, object, eventName, data); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return nil
	})
}

// invokeBody is the body shape spec.md §6 names for POST /invoke/{object}:
// the method to call plus its arguments.
type invokeBody struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	object := r.PathValue("object")

	var body invokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": string(broker.KindMalformedRequest)})
		return
	}

	s.withClient(w, r, func(clientID string) error {
		requestID := uuid.NewString()
		result, err := s.broker.Invoke(r.Context(), clientID, requestID, object, body.Method, body.Args)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(result)
		return nil
	})
}

// handleQuery serves a pattern query. A plain request returns the
// current snapshot once; a request with Accept: text/event-stream stays
// open and streams queryAdd/queryChange/queryRemove notifications until
// the client disconnects.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	pat := r.URL.Query().Get("pattern")
	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamQuery(w, r, pat)
		return
	}

	objs, err := s.broker.Get(pat)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objs})
}

type flushWriter interface {
	http.ResponseWriter
	http.Flusher
}

func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request, pat string) {
	fw, ok := w.(flushWriter)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := uuid.NewString()
	outbox := event.NewChannelOutbox(s.outboxSize)
	if err := s.broker.RegisterClient(clientID, outbox); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.broker.Disconnect(clientID)

	snap, err := s.broker.AddQuery(clientID, pat, false)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.broker.RemoveQuery(clientID, snap.QueryID)

	fw.Header().Set("Content-Type", "text/event-stream")
	fw.Header().Set("Cache-Control", "no-cache")
	fw.Header().Set("Connection", "keep-alive")
	fw.WriteHeader(http.StatusOK)

	writeSSE(fw, "snapshot", map[string]any{"queryId": snap.QueryID, "objects": snap.Objects})

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-outbox.C():
			if !ok {
				return
			}
			writeSSE(fw, n.Type, n)
		case <-ticker.C:
			fmt.Fprint(fw, ": keep-alive\n\n")
			fw.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(fw flushWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(fw, "event: %s\ndata: %s\n\n", event, data)
	fw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := protocol.ErrorKind(err)
	status := http.StatusInternalServerError
	switch broker.Kind(kind) {
	case broker.KindInvalidPattern, broker.KindMalformedRequest:
		status = http.StatusBadRequest
	case broker.KindUnknownObject, broker.KindUnknownQuery, broker.KindUnknownInvocation:
		status = http.StatusNotFound
	case broker.KindNoProvider, broker.KindProviderDisconnected:
		status = http.StatusServiceUnavailable
	case broker.KindStorageError:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": kind})
}
