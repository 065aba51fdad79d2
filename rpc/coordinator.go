// Package rpc parks consumer invocations until their chosen provider
// replies, or until the provider is lost and the invocation must be
// failed back to the consumer. The correlation-map shape mirrors the
// corpus's QoS in-flight message tracking (packet id -> parked message),
// adapted to a UUID invocation id with no retry/ack timer — the spec
// enforces no timeout at this layer.
package rpc

import (
	"github.com/google/uuid"

	"github.com/objtalk/objtalk/subscription"
)

// Pending is a parked invocation: a consumer's invoke is held open until
// the chosen provider answers or is lost.
type Pending struct {
	InvocationID string
	Object       string
	Method       string

	RequesterClientID  string
	RequesterRequestID any

	ProviderSubscriptionID string
	ProviderClientID       string

	abandoned bool
}

// Abandoned reports whether the requester disconnected while this
// invocation was outstanding: a later result is discarded rather than
// routed anywhere, but the provider still gets {success: true}.
func (p *Pending) Abandoned() bool {
	return p.abandoned
}

// Coordinator holds every currently-parked invocation.
type Coordinator struct {
	pending map[string]*Pending
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{pending: make(map[string]*Pending)}
}

// Invoke parks a new invocation against the chosen provider subscription
// and returns it so the caller can dispatch a queryInvocation.
func (c *Coordinator) Invoke(requesterClientID string, requesterRequestID any, provider *subscription.Subscription, object, method string) *Pending {
	p := &Pending{
		InvocationID:           uuid.NewString(),
		Object:                 object,
		Method:                 method,
		RequesterClientID:      requesterClientID,
		RequesterRequestID:     requesterRequestID,
		ProviderSubscriptionID: provider.ID,
		ProviderClientID:       provider.ClientID,
	}
	c.pending[p.InvocationID] = p
	return p
}

// Result completes invocationID on behalf of providerClientID, removing
// it from the pending set. It fails with ErrUnknownInvocation both when
// the id is unrecognized and when the caller isn't its provider.
func (c *Coordinator) Result(providerClientID, invocationID string) (*Pending, error) {
	p, ok := c.pending[invocationID]
	if !ok || p.ProviderClientID != providerClientID {
		return nil, ErrUnknownInvocation
	}
	delete(c.pending, invocationID)
	return p, nil
}

// FailProviderSubscription removes and returns every invocation parked
// on the given provider subscription, for the caller to fail back to
// each requester with ErrProviderDisconnected.
func (c *Coordinator) FailProviderSubscription(subscriptionID string) []*Pending {
	return c.failWhere(func(p *Pending) bool { return p.ProviderSubscriptionID == subscriptionID })
}

// FailProviderClient removes and returns every invocation whose provider
// is clientID, used when that client's whole session drops.
func (c *Coordinator) FailProviderClient(clientID string) []*Pending {
	return c.failWhere(func(p *Pending) bool { return p.ProviderClientID == clientID })
}

func (c *Coordinator) failWhere(match func(*Pending) bool) []*Pending {
	var failed []*Pending
	for id, p := range c.pending {
		if match(p) {
			failed = append(failed, p)
			delete(c.pending, id)
		}
	}
	return failed
}

// AbandonRequester marks every invocation requested by clientID as
// abandoned, without removing it: a provider reply must still be able to
// find the invocation and receive {success: true}, it's the response
// routing back to the (now gone) requester that's skipped.
func (c *Coordinator) AbandonRequester(clientID string) {
	for _, p := range c.pending {
		if p.RequesterClientID == clientID {
			p.abandoned = true
		}
	}
}

// Count returns the number of invocations currently parked.
func (c *Coordinator) Count() int {
	return len(c.pending)
}
