// Package subscription tracks live queries: which client owns which
// compiled pattern, and whether that query has opted in to serving RPC
// invocations for the objects it matches.
package subscription

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/pattern"
)

// Subscription is a live match between a pattern and the registry.
type Subscription struct {
	ID         string
	ClientID   string
	Pattern    *pattern.Pattern
	ProvideRPC bool

	// createdAt and seq together give a deterministic, stable creation
	// order for RPC provider selection: createdAt for the common case,
	// seq to break ties when two subscriptions are added within the
	// same clock tick.
	createdAt time.Time
	seq       uint64
}

// Table is the flat list of live subscriptions. A linear scan per
// mutation is the documented tradeoff at the broker's target scale
// (hundreds of subscriptions, not millions).
type Table struct {
	byID     map[string]*Subscription
	byClient map[string]map[string]*Subscription
	nextSeq  uint64
}

// NewTable creates an empty subscription table.
func NewTable() *Table {
	return &Table{
		byID:     make(map[string]*Subscription),
		byClient: make(map[string]map[string]*Subscription),
	}
}

// Add compiles nothing itself — callers pass an already-compiled
// pattern — and allocates a fresh subscription id.
func (t *Table) Add(clientID string, pat *pattern.Pattern, provideRPC bool) *Subscription {
	t.nextSeq++
	sub := &Subscription{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		Pattern:    pat,
		ProvideRPC: provideRPC,
		createdAt:  time.Now(),
		seq:        t.nextSeq,
	}

	t.byID[sub.ID] = sub
	if t.byClient[clientID] == nil {
		t.byClient[clientID] = make(map[string]*Subscription)
	}
	t.byClient[clientID][sub.ID] = sub

	return sub
}

// Remove deletes a subscription, but only on behalf of its owning
// client: a client may not unsubscribe another client's query.
func (t *Table) Remove(clientID, id string) (*Subscription, error) {
	sub, ok := t.byID[id]
	if !ok || sub.ClientID != clientID {
		return nil, ErrUnknownQuery
	}

	delete(t.byID, id)
	delete(t.byClient[clientID], id)
	if len(t.byClient[clientID]) == 0 {
		delete(t.byClient, clientID)
	}

	return sub, nil
}

// RemoveAllForClient sweeps every subscription owned by clientID, used on
// disconnect. It returns the removed subscriptions so a caller can fail
// any invocations they were providing.
func (t *Table) RemoveAllForClient(clientID string) []*Subscription {
	owned, ok := t.byClient[clientID]
	if !ok {
		return nil
	}

	removed := make([]*Subscription, 0, len(owned))
	for id, sub := range owned {
		delete(t.byID, id)
		removed = append(removed, sub)
	}
	delete(t.byClient, clientID)

	return removed
}

// Count returns the number of live subscriptions.
func (t *Table) Count() int {
	return len(t.byID)
}

// Get looks up a subscription by id regardless of owner.
func (t *Table) Get(id string) (*Subscription, bool) {
	sub, ok := t.byID[id]
	return sub, ok
}

// Matching returns every subscription whose pattern matches name.
func (t *Table) Matching(name string) []*Subscription {
	matches := make([]*Subscription, 0)
	for _, sub := range t.byID {
		if sub.Pattern.Matches(name) {
			matches = append(matches, sub)
		}
	}
	return matches
}

// Providers returns the RPC-providing subscriptions matching name, sorted
// by creation order (earliest first, ties broken by insertion sequence,
// then by subscription id) so
// callers can deterministically pick the first element.
func (t *Table) Providers(name string) []*Subscription {
	candidates := make([]*Subscription, 0)
	for _, sub := range t.byID {
		if sub.ProvideRPC && sub.Pattern.Matches(name) {
			candidates = append(candidates, sub)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })
	return candidates
}

func less(a, b *Subscription) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.ID < b.ID
}
