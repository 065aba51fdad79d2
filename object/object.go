// Package object holds the authoritative name -> object map: the
// broker's registry, mediating every read and write against the
// configured store.Store.
package object

import (
	"encoding/json"
	"time"
)

// Object is a named JSON value with the instant it was last written.
type Object struct {
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value"`
	LastModified time.Time       `json:"lastModified"`
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp
}
