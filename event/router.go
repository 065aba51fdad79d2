package event

import (
	"github.com/objtalk/objtalk/object"
	"github.com/objtalk/objtalk/subscription"
)

// Dispatch pairs a subscription with the notification it should receive.
// The broker façade is responsible for turning this into an Outbox.Enqueue
// call and for disconnecting the client on ErrOutboxFull.
type Dispatch struct {
	Subscription *subscription.Subscription
	Notification Notification
}

// Router computes, for a mutation, the set of (subscription,
// notification) pairs it produces. It holds no state of its own — every
// method takes the current subscription table as a parameter so the
// façade decides when a "current" view is taken, preserving the ordering
// guarantee described in spec.md §4.7.
type Router struct{}

// NewRouter returns a stateless Router.
func NewRouter() *Router {
	return &Router{}
}

// OnWrite computes the fan-out for a set/patch of obj, given whether the
// name existed before the write (wasPresent). A name's pattern can't
// start or stop matching from a write alone — only presence changes.
func (r *Router) OnWrite(subs *subscription.Table, obj object.Object, wasPresent bool) []Dispatch {
	matching := subs.Matching(obj.Name)
	dispatches := make([]Dispatch, 0, len(matching))

	notifType := TypeQueryChange
	if !wasPresent {
		notifType = TypeQueryAdd
	}

	for _, sub := range matching {
		dispatches = append(dispatches, Dispatch{
			Subscription: sub,
			Notification: Notification{
				Type:    notifType,
				QueryID: sub.ID,
				Object:  obj,
			},
		})
	}

	return dispatches
}

// OnRemove computes the fan-out for the removal of an object that
// existed as prior immediately before the delete.
func (r *Router) OnRemove(subs *subscription.Table, prior object.Object) []Dispatch {
	matching := subs.Matching(prior.Name)
	dispatches := make([]Dispatch, 0, len(matching))

	for _, sub := range matching {
		dispatches = append(dispatches, Dispatch{
			Subscription: sub,
			Notification: Notification{
				Type:    TypeQueryRemove,
				QueryID: sub.ID,
				Object:  prior,
			},
		})
	}

	return dispatches
}

// OnEvent computes the fan-out for an emit against objectName. Events do
// not change lastModified or value, so the notification carries only the
// object's name, not a snapshot of it.
func (r *Router) OnEvent(subs *subscription.Table, objectName, eventName string, data []byte) []Dispatch {
	matching := subs.Matching(objectName)
	dispatches := make([]Dispatch, 0, len(matching))

	for _, sub := range matching {
		dispatches = append(dispatches, Dispatch{
			Subscription: sub,
			Notification: Notification{
				Type:    TypeQueryEvent,
				QueryID: sub.ID,
				Object:  objectName,
				Event:   eventName,
				Data:    data,
			},
		})
	}

	return dispatches
}

// OnInvocation computes the single dispatch for a parked invocation
// routed to its chosen provider subscription.
func (r *Router) OnInvocation(provider *subscription.Subscription, invocationID, objectName, method string, args []byte) Dispatch {
	return Dispatch{
		Subscription: provider,
		Notification: Notification{
			Type:         TypeQueryInvocation,
			QueryID:      provider.ID,
			InvocationID: invocationID,
			Object:       objectName,
			Method:       method,
			Args:         args,
		},
	}
}
