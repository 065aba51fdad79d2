package broker

import "encoding/json"

// activitySubject is the synthetic object name activity records are
// published against, per the log side-channel design note: any
// subscription querying this name receives a queryEvent per operation,
// with no dedicated API surface needed.
const activitySubject = "$sys/log"

// activityRecord describes one accepted operation for the log
// side-channel. It is marshaled as a queryEvent's data payload, so its
// JSON field names are part of that wire shape even though nothing in
// this package parses them back.
type activityRecord struct {
	Op       string `json:"op"`
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	QueryID  string `json:"queryId,omitempty"`
	Event    string `json:"event,omitempty"`
	Method   string `json:"method,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r activityRecord) encode() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		// activityRecord's fields are all plain strings; Marshal cannot
		// fail on them.
		panic(err)
	}
	return data
}
