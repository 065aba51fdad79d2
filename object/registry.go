package object

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objtalk/objtalk/pattern"
	"github.com/objtalk/objtalk/store"
)

// Registry is the canonical in-memory name -> Object map. Reads take a
// lock-free snapshot (copy-on-write, the same technique the corpus's hook
// manager uses for its hook slice) so Get can run concurrently with a
// mutation in flight through the broker's worker loop. Mutating methods
// are only ever called from that worker loop, which is what gives the
// registry its "one mutation completes before the next begins" ordering;
// the mutex below guards against misuse, not contention.
type Registry struct {
	backend store.Store
	now     func() time.Time

	mu    sync.Mutex
	state atomic.Pointer[map[string]Object]
}

// New creates a Registry backed by backend. Call Load once before serving
// traffic to seed it from the store.
func New(backend store.Store) *Registry {
	r := &Registry{backend: backend, now: time.Now}
	empty := make(map[string]Object)
	r.state.Store(&empty)
	return r
}

// Load seeds the registry from the backend's full record set. Intended to
// run once, at broker construction, before any mutation is accepted.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.backend.LoadAll(ctx)
	if err != nil {
		return err
	}

	m := make(map[string]Object, len(records))
	for _, rec := range records {
		m[rec.Name] = Object{Name: rec.Name, Value: cloneRaw(rec.Value), LastModified: rec.LastModified}
	}
	r.state.Store(&m)
	return nil
}

func (r *Registry) snapshot() map[string]Object {
	return *r.state.Load()
}

// Lookup returns the current object for name, if any.
func (r *Registry) Lookup(name string) (Object, bool) {
	obj, ok := r.snapshot()[name]
	return obj, ok
}

// Get returns every object whose name matches p. Order is unspecified.
func (r *Registry) Get(p *pattern.Pattern) []Object {
	snap := r.snapshot()
	result := make([]Object, 0, len(snap))
	for name, obj := range snap {
		if p.Matches(name) {
			result = append(result, obj)
		}
	}
	return result
}

// Set replaces name's value wholesale, stamping LastModified with the
// registry clock. created reports whether name was previously absent.
func (r *Registry) Set(ctx context.Context, name string, value json.RawMessage) (obj Object, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lastModified := r.now()
	if err := r.backend.Upsert(ctx, name, value, lastModified); err != nil {
		return Object{}, false, err
	}

	old := r.snapshot()
	_, existed := old[name]

	obj = Object{Name: name, Value: cloneRaw(value), LastModified: lastModified}
	next := copyWith(old, name, obj)
	r.state.Store(&next)

	return obj, !existed, nil
}

// Patch shallow-merges value's top-level fields into the existing object
// when both are JSON objects; otherwise it behaves like Set.
func (r *Registry) Patch(ctx context.Context, name string, value json.RawMessage) (obj Object, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snapshot()
	existing, existed := old[name]

	toPersist := value
	if existed {
		if merged, ok, mergeErr := mergePatch(existing.Value, value); mergeErr != nil {
			return Object{}, false, fmt.Errorf("%w: %v", ErrMalformedValue, mergeErr)
		} else if ok {
			toPersist = merged
		}
	}

	lastModified := r.now()
	if err := r.backend.Upsert(ctx, name, toPersist, lastModified); err != nil {
		return Object{}, false, err
	}

	obj = Object{Name: name, Value: cloneRaw(toPersist), LastModified: lastModified}
	next := copyWith(old, name, obj)
	r.state.Store(&next)

	return obj, !existed, nil
}

// Remove deletes name from storage and the in-memory map. prior carries
// the last-known object when it existed, for the router's queryRemove
// notification.
func (r *Registry) Remove(ctx context.Context, name string) (prior Object, existed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snapshot()
	prior, existed = old[name]
	if !existed {
		// Still ask the backend, in case it disagrees with memory; the
		// in-memory map is authoritative for what the router reports.
		if _, err := r.backend.Delete(ctx, name); err != nil {
			return Object{}, false, err
		}
		return Object{}, false, nil
	}

	if _, err := r.backend.Delete(ctx, name); err != nil {
		return Object{}, false, err
	}

	next := make(map[string]Object, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	r.state.Store(&next)

	return prior, true, nil
}

func copyWith(old map[string]Object, name string, obj Object) map[string]Object {
	next := make(map[string]Object, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = obj
	return next
}
