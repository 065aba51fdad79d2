// Package protocol implements the request/response/notification envelope
// shared by the TCP and WebSocket transports (spec.md §6): decode a
// Request, call exactly one broker façade method, encode a Response.
// HTTP uses a REST shape instead and talks to the broker directly.
package protocol

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/event"
)

// Request is the envelope a client sends: `{"id": <int>, "type": <string>, ...params}`.
type Request struct {
	ID   json.RawMessage `json:"id"`
	Type string          `json:"type"`

	Name         string          `json:"name,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Pattern      string          `json:"pattern,omitempty"`
	ProvideRPC   bool            `json:"provideRpc,omitempty"`
	QueryID      string          `json:"queryId,omitempty"`
	Object       string          `json:"object,omitempty"`
	Event        string          `json:"event,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Method       string          `json:"method,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	InvocationID string          `json:"invocationId,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Response is either a successful result or an error, keyed to its
// Request by RequestID. Notifications (event.Notification) carry neither
// field and are encoded separately.
type Response struct {
	RequestID json.RawMessage `json:"requestId"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ErrorKind extracts the stable Kind tag from err, or MalformedRequest if
// err didn't come from the broker façade (e.g. a JSON decode failure).
func ErrorKind(err error) string {
	var bErr *broker.Error
	if errors.As(err, &bErr) {
		return string(bErr.Kind)
	}
	return string(broker.KindMalformedRequest)
}

// Dispatch decodes req, calls the one broker method it names on behalf
// of clientID, and returns the Response to write back. ctx bounds the
// blocking invoke case: a transport passes its connection-scoped context
// so a closed connection unparks any invoke it had in flight.
func Dispatch(ctx context.Context, b *broker.Broker, clientID string, req Request) Response {
	resp := Response{RequestID: req.ID}

	switch req.Type {
	case "set":
		if err := b.Set(ctx, clientID, req.Name, req.Value); err != nil {
			return fail(resp, err)
		}
		resp.Result = successResult{Success: true}

	case "patch":
		if err := b.Patch(ctx, clientID, req.Name, req.Value); err != nil {
			return fail(resp, err)
		}
		resp.Result = successResult{Success: true}

	case "get":
		objs, err := b.Get(req.Pattern)
		if err != nil {
			return fail(resp, err)
		}
		resp.Result = objectsResult{Objects: objs}

	case "query":
		snap, err := b.AddQuery(clientID, req.Pattern, req.ProvideRPC)
		if err != nil {
			return fail(resp, err)
		}
		resp.Result = querySnapshotResult{QueryID: snap.QueryID, Objects: snap.Objects}

	case "unsubscribe":
		if err := b.RemoveQuery(clientID, req.QueryID); err != nil {
			return fail(resp, err)
		}
		resp.Result = successResult{Success: true}

	case "remove":
		existed, err := b.Remove(ctx, clientID, req.Name)
		if err != nil {
			return fail(resp, err)
		}
		resp.Result = existedResult{Existed: existed}

	case "emit":
		if err := b.Emit(clientID, req.Object, req.Event, req.Data); err != nil {
			return fail(resp, err)
		}
		resp.Result = successResult{Success: true}

	case "invoke":
		result, err := b.Invoke(ctx, clientID, string(req.ID), req.Object, req.Method, req.Args)
		if err != nil {
			return fail(resp, err)
		}
		resp.Result = result

	case "invokeResult":
		if err := b.InvokeResult(clientID, req.InvocationID, req.Result); err != nil {
			return fail(resp, err)
		}
		resp.Result = successResult{Success: true}

	default:
		resp.Error = string(broker.KindMalformedRequest)
	}

	return resp
}

func fail(resp Response, err error) Response {
	resp.Error = ErrorKind(err)
	return resp
}

type successResult struct {
	Success bool `json:"success"`
}

type existedResult struct {
	Existed bool `json:"existed"`
}

type objectsResult struct {
	Objects any `json:"objects"`
}

type querySnapshotResult struct {
	QueryID string `json:"queryId"`
	Objects any    `json:"objects"`
}

// EncodeNotification renders an async push message; it carries no
// requestId field, distinguishing it from Response on the wire.
func EncodeNotification(n event.Notification) ([]byte, error) {
	return json.Marshal(n)
}
