// Package broker is the single entry point described in spec.md §4.7: a
// serialized worker loop owning the registry, subscription table and
// pending RPC invocations, so every mutating operation appears atomic
// with respect to the others. Pure reads bypass the worker and read the
// registry's lock-free snapshot directly.
package broker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/objtalk/objtalk/event"
	"github.com/objtalk/objtalk/object"
	"github.com/objtalk/objtalk/pattern"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/rpc"
	"github.com/objtalk/objtalk/store"
	"github.com/objtalk/objtalk/subscription"
)

// ErrClosed is returned by any façade call made after Close, or one that
// was still in flight when Close ran.
var ErrClosed = errors.New("broker: closed")

// Broker is the worker loop plus the state it serializes access to.
// Every exported method is safe to call concurrently from many transport
// goroutines; only the run loop ever touches registry mutation,
// subscription table, rpcCoord, waiters and outboxes directly.
type Broker struct {
	registry *object.Registry
	subs     *subscription.Table
	router   *event.Router
	rpcCoord *rpc.Coordinator
	log      logger.Logger

	mailbox chan any
	done    chan struct{}

	// touched only from run()
	waiters  map[string]chan invokeOutcome
	outboxes map[string]event.Outbox
}

// New constructs a Broker over backend. Call Start before routing traffic
// to it.
func New(backend store.Store, log logger.Logger) *Broker {
	return &Broker{
		registry: object.New(backend),
		subs:     subscription.NewTable(),
		router:   event.NewRouter(),
		rpcCoord: rpc.NewCoordinator(),
		log:      log,
		mailbox:  make(chan any),
		done:     make(chan struct{}),
		waiters:  make(map[string]chan invokeOutcome),
		outboxes: make(map[string]event.Outbox),
	}
}

// Start seeds the registry from the backend and launches the worker
// loop. Call exactly once, before any façade method.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.registry.Load(ctx); err != nil {
		return classify(KindStorageError, err)
	}
	go b.run()
	b.log.Info("broker started")
	return nil
}

// Close stops the worker loop. Façade calls already blocked on a reply
// return ErrClosed; new calls fail the same way.
func (b *Broker) Close() {
	close(b.done)
	b.log.Info("broker stopped")
}

// RegisterClient attaches outbox as clientID's notification sink. Call
// once per session before issuing queries on its behalf.
func (b *Broker) RegisterClient(clientID string, outbox event.Outbox) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		b.outboxes[clientID] = outbox
		return nil, nil
	})
	return err
}

// Disconnect tears down everything owned by clientID: its subscriptions,
// its pending invocations (both as requester and as provider), and its
// outbox. Transports call this exactly once per session, on close.
func (b *Broker) Disconnect(clientID string) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		b.disconnectClient(clientID)
		return nil, nil
	})
	return err
}

// Set replaces name's value wholesale.
func (b *Broker) Set(ctx context.Context, clientID, name string, value json.RawMessage) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		obj, created, rerr := b.registry.Set(ctx, name, value)
		if rerr != nil {
			b.logActivity(activityRecord{Op: "set", ClientID: clientID, Name: name, Error: rerr.Error()})
			return nil, classifyErr(rerr)
		}
		b.dispatchWrite(obj, !created)
		b.logActivity(activityRecord{Op: "set", ClientID: clientID, Name: name})
		return nil, nil
	})
	return err
}

// Patch shallow-merges value into name's existing object, per
// object.Registry.Patch's rules.
func (b *Broker) Patch(ctx context.Context, clientID, name string, value json.RawMessage) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		obj, created, rerr := b.registry.Patch(ctx, name, value)
		if rerr != nil {
			b.logActivity(activityRecord{Op: "patch", ClientID: clientID, Name: name, Error: rerr.Error()})
			return nil, classifyErr(rerr)
		}
		b.dispatchWrite(obj, !created)
		b.logActivity(activityRecord{Op: "patch", ClientID: clientID, Name: name})
		return nil, nil
	})
	return err
}

// Remove deletes name, reporting whether it existed.
func (b *Broker) Remove(ctx context.Context, clientID, name string) (existed bool, err error) {
	v, err := b.submit(func(b *Broker) (any, *Error) {
		prior, existed, rerr := b.registry.Remove(ctx, name)
		if rerr != nil {
			b.logActivity(activityRecord{Op: "remove", ClientID: clientID, Name: name, Error: rerr.Error()})
			return nil, classifyErr(rerr)
		}
		if existed {
			dispatches := b.router.OnRemove(b.subs, prior)
			b.deliver(dispatches)
		}
		b.logActivity(activityRecord{Op: "remove", ClientID: clientID, Name: name})
		return existed, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Get is a pure read: it never touches the worker loop, so it can run
// concurrently with any mutation in flight.
func (b *Broker) Get(patternText string) ([]object.Object, error) {
	p, err := pattern.Compile(patternText)
	if err != nil {
		return nil, classify(KindInvalidPattern, err)
	}
	return b.registry.Get(p), nil
}

// Emit fans out a fire-and-forget event attached to an existing object.
func (b *Broker) Emit(clientID, objectName, eventName string, data json.RawMessage) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		if _, exists := b.registry.Lookup(objectName); !exists {
			b.logActivity(activityRecord{Op: "emit", ClientID: clientID, Name: objectName, Event: eventName, Error: ErrUnknownObject.Error()})
			return nil, classify(KindUnknownObject, ErrUnknownObject)
		}
		dispatches := b.router.OnEvent(b.subs, objectName, eventName, data)
		b.deliver(dispatches)
		b.logActivity(activityRecord{Op: "emit", ClientID: clientID, Name: objectName, Event: eventName})
		return nil, nil
	})
	return err
}

// QuerySnapshot is the result of AddQuery: the new subscription's id and
// the objects currently matching it.
type QuerySnapshot struct {
	QueryID string
	Objects []object.Object
}

// AddQuery compiles patternText, registers a subscription for clientID
// and returns its id plus the current matching objects.
func (b *Broker) AddQuery(clientID, patternText string, provideRPC bool) (QuerySnapshot, error) {
	p, err := pattern.Compile(patternText)
	if err != nil {
		return QuerySnapshot{}, classify(KindInvalidPattern, err)
	}

	v, err := b.submit(func(b *Broker) (any, *Error) {
		sub := b.subs.Add(clientID, p, provideRPC)
		snap := QuerySnapshot{QueryID: sub.ID, Objects: b.registry.Get(p)}
		b.logActivity(activityRecord{Op: "query", ClientID: clientID, Pattern: patternText, QueryID: sub.ID})
		return snap, nil
	})
	if err != nil {
		return QuerySnapshot{}, err
	}
	return v.(QuerySnapshot), nil
}

// RemoveQuery cancels a subscription clientID owns.
func (b *Broker) RemoveQuery(clientID, queryID string) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		sub, rerr := b.subs.Remove(clientID, queryID)
		if rerr != nil {
			b.logActivity(activityRecord{Op: "unsubscribe", ClientID: clientID, QueryID: queryID, Error: rerr.Error()})
			return nil, classifyErr(rerr)
		}
		if sub.ProvideRPC {
			for _, pending := range b.rpcCoord.FailProviderSubscription(sub.ID) {
				b.completeInvoke(pending, nil, classify(KindProviderDisconnected, rpc.ErrProviderDisconnected))
			}
		}
		b.logActivity(activityRecord{Op: "unsubscribe", ClientID: clientID, QueryID: queryID})
		return nil, nil
	})
	return err
}

// Invoke parks a consumer's call against the deterministically-chosen
// provider for object and blocks until a result arrives, the provider is
// lost, or ctx is canceled. requestID is opaque to the broker; transports
// use it to correlate the eventual response with their own wire request.
func (b *Broker) Invoke(ctx context.Context, clientID string, requestID any, objectName, method string, args json.RawMessage) (json.RawMessage, error) {
	req := &invokeRequest{
		clientID:  clientID,
		requestID: requestID,
		object:    objectName,
		method:    method,
		args:      args,
		parked:    make(chan invokeParkResult, 1),
	}

	select {
	case b.mailbox <- req:
	case <-b.done:
		return nil, ErrClosed
	}

	var parked invokeParkResult
	select {
	case parked = <-req.parked:
	case <-b.done:
		return nil, ErrClosed
	}
	if parked.err != nil {
		return nil, parked.err
	}

	select {
	case outcome := <-parked.waiter:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}
}

// InvokeResult completes invocationID on behalf of providerClientID,
// routing result back to whatever is blocked in Invoke (or discarding it
// silently if the requester already disconnected).
func (b *Broker) InvokeResult(providerClientID, invocationID string, result json.RawMessage) error {
	_, err := b.submit(func(b *Broker) (any, *Error) {
		pending, rerr := b.rpcCoord.Result(providerClientID, invocationID)
		if rerr != nil {
			b.logActivity(activityRecord{Op: "invokeResult", ClientID: providerClientID, Error: rerr.Error()})
			return nil, classify(KindUnknownInvocation, rerr)
		}
		if pending.Abandoned() {
			delete(b.waiters, pending.InvocationID)
		} else {
			b.completeInvoke(pending, result, nil)
		}
		b.logActivity(activityRecord{Op: "invokeResult", ClientID: providerClientID, Method: pending.Method})
		return nil, nil
	})
	return err
}
