package broker

import (
	"encoding/json"

	"github.com/objtalk/objtalk/event"
	"github.com/objtalk/objtalk/object"
	"github.com/objtalk/objtalk/rpc"
)

// opRequest is a mailboxed call that completes synchronously: fn runs on
// the worker goroutine and its result is handed back over reply.
type opRequest struct {
	fn    func(b *Broker) (any, *Error)
	reply chan opReply
}

type opReply struct {
	value any
	err   *Error
}

// invokeRequest is the one mailboxed call that does not complete
// synchronously: parked reports whether the invocation was accepted, and
// if so carries a second channel (waiter) the caller blocks on until the
// provider answers or is lost.
type invokeRequest struct {
	clientID  string
	requestID any
	object    string
	method    string
	args      json.RawMessage
	parked    chan invokeParkResult
}

type invokeParkResult struct {
	waiter chan invokeOutcome
	err    *Error
}

type invokeOutcome struct {
	result json.RawMessage
	err    *Error
}

// submit hands fn to the worker loop and blocks for its result.
func (b *Broker) submit(fn func(b *Broker) (any, *Error)) (any, error) {
	req := &opRequest{fn: fn, reply: make(chan opReply, 1)}

	select {
	case b.mailbox <- req:
	case <-b.done:
		return nil, ErrClosed
	}

	select {
	case r := <-req.reply:
		if r.err == nil {
			return r.value, nil
		}
		return r.value, r.err
	case <-b.done:
		return nil, ErrClosed
	}
}

// run is the single goroutine that owns registry mutation, the
// subscription table, pending invocations, waiters and outboxes. Every
// other method on Broker only ever talks to it through the mailbox.
func (b *Broker) run() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.mailbox:
			switch m := msg.(type) {
			case *opRequest:
				value, err := m.fn(b)
				m.reply <- opReply{value: value, err: err}
			case *invokeRequest:
				b.handleInvoke(m)
			}
		}
	}
}

// handleInvoke runs invoke's steps from spec.md §4.6 on the worker
// goroutine: object existence, provider selection, parking, dispatch.
func (b *Broker) handleInvoke(m *invokeRequest) {
	if _, exists := b.registry.Lookup(m.object); !exists {
		m.parked <- invokeParkResult{err: classify(KindUnknownObject, ErrUnknownObject)}
		return
	}

	providers := b.subs.Providers(m.object)
	if len(providers) == 0 {
		m.parked <- invokeParkResult{err: classify(KindNoProvider, rpc.ErrNoProvider)}
		return
	}
	provider := providers[0]

	pending := b.rpcCoord.Invoke(m.clientID, m.requestID, provider, m.object, m.method)
	waiter := make(chan invokeOutcome, 1)
	b.waiters[pending.InvocationID] = waiter

	dispatch := b.router.OnInvocation(provider, pending.InvocationID, m.object, m.method, m.args)
	if outbox, ok := b.outboxes[provider.ClientID]; ok {
		if enqueueErr := outbox.Enqueue(dispatch.Notification); enqueueErr != nil {
			delete(b.waiters, pending.InvocationID)
			b.disconnectClient(provider.ClientID)
			m.parked <- invokeParkResult{err: classify(KindProviderDisconnected, rpc.ErrProviderDisconnected)}
			return
		}
	}

	b.logActivity(activityRecord{Op: "invoke", ClientID: m.clientID, Name: m.object, Method: m.method})
	m.parked <- invokeParkResult{waiter: waiter}
}

// completeInvoke delivers result (or err) to whatever Invoke call is
// parked on pending.InvocationID, if anything still is.
func (b *Broker) completeInvoke(pending *rpc.Pending, result json.RawMessage, err *Error) {
	waiter, ok := b.waiters[pending.InvocationID]
	if !ok {
		return
	}
	delete(b.waiters, pending.InvocationID)
	waiter <- invokeOutcome{result: result, err: err}
}

// disconnectClient sweeps every trace of clientID: subscriptions, the
// invocations it was providing (failed back to their requesters), the
// invocations it had requested (abandoned, not failed — see
// rpc.Coordinator.AbandonRequester), and its outbox.
func (b *Broker) disconnectClient(clientID string) {
	b.subs.RemoveAllForClient(clientID)

	failed := b.rpcCoord.FailProviderClient(clientID)
	for _, pending := range failed {
		b.completeInvoke(pending, nil, classify(KindProviderDisconnected, rpc.ErrProviderDisconnected))
	}
	if len(failed) > 0 {
		b.log.Warn("provider disconnected with invocations pending", "clientId", clientID, "count", len(failed))
	}
	b.rpcCoord.AbandonRequester(clientID)

	if outbox, ok := b.outboxes[clientID]; ok {
		delete(b.outboxes, clientID)
		if ch, ok := outbox.(*event.ChannelOutbox); ok {
			ch.Close()
		}
	}

	b.logActivity(activityRecord{Op: "disconnect", ClientID: clientID})
}

// dispatchWrite routes the fan-out for a completed set/patch.
func (b *Broker) dispatchWrite(obj object.Object, wasPresent bool) {
	b.deliver(b.router.OnWrite(b.subs, obj, wasPresent))
}

// deliver enqueues every dispatch onto its subscription owner's outbox,
// disconnecting any client whose outbox is saturated: a slow subscriber
// backpressures only itself.
func (b *Broker) deliver(dispatches []event.Dispatch) {
	for _, d := range dispatches {
		outbox, ok := b.outboxes[d.Subscription.ClientID]
		if !ok {
			continue
		}
		if err := outbox.Enqueue(d.Notification); err != nil {
			b.disconnectClient(d.Subscription.ClientID)
		}
	}
}

// logActivity publishes rec as a queryEvent on the synthetic $sys/log
// subject, per the design note in spec.md §9: no dedicated activity API,
// just another event routed through the same subscription table. It
// also flows through pkg/logger, at Warn if rec carries an error and
// Info otherwise, so operators watching process logs see the same
// stream $sys/log subscribers do.
func (b *Broker) logActivity(rec activityRecord) {
	if rec.Error != "" {
		b.log.Warn(rec.Op, "clientId", rec.ClientID, "name", rec.Name, "queryId", rec.QueryID, "err", rec.Error)
	} else {
		b.log.Info(rec.Op, "clientId", rec.ClientID, "name", rec.Name, "queryId", rec.QueryID)
	}
	b.deliver(b.router.OnEvent(b.subs, activitySubject, rec.Op, rec.encode()))
}
