// Package event computes, for every broker mutation, which live
// subscriptions are affected and builds the notification each one
// should receive. It never talks to a transport directly — it hands
// back a plan the broker façade dispatches to per-client outboxes.
package event

import "encoding/json"

// Notification is the wire shape of an asynchronous, requestId-less
// message pushed to a subscriber. Object carries either the full
// object.Object (queryAdd/queryChange/queryRemove) or just the object's
// name (queryEvent/queryInvocation), matching spec.md §4.5/§4.6.
type Notification struct {
	Type         string          `json:"type"`
	QueryID      string          `json:"queryId,omitempty"`
	Object       any             `json:"object,omitempty"`
	Event        string          `json:"event,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	InvocationID string          `json:"invocationId,omitempty"`
	Method       string          `json:"method,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
}

const (
	TypeQueryAdd        = "queryAdd"
	TypeQueryChange     = "queryChange"
	TypeQueryRemove     = "queryRemove"
	TypeQueryEvent      = "queryEvent"
	TypeQueryInvocation = "queryInvocation"
)
