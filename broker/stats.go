package broker

import (
	"encoding/json"

	"github.com/objtalk/objtalk/pattern"
)

// statsSubject is the synthetic object name periodic Stats snapshots are
// published against, mirroring activitySubject's $sys/log convention.
const statsSubject = "$sys/stats"

// allPattern matches every object name; Compile cannot fail on "*", so
// the error is discarded once at package init.
var allPattern = mustCompileAll()

func mustCompileAll() *pattern.Pattern {
	p, err := pattern.Compile("*")
	if err != nil {
		panic(err)
	}
	return p
}

// Stats is a point-in-time count of broker-managed resources, read under
// the worker loop so it never races a mutation.
type Stats struct {
	Objects            int `json:"objects"`
	Subscriptions      int `json:"subscriptions"`
	PendingInvocations int `json:"pendingInvocations"`
	Clients            int `json:"clients"`
}

func (s Stats) encode() json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return data
}

// Stats snapshots the broker's resource counts. cmd/objtalkd polls this
// to publish periodic $sys/stats activity records; nothing in the core
// depends on it.
func (b *Broker) Stats() (Stats, error) {
	v, err := b.submit(func(b *Broker) (any, *Error) {
		return Stats{
			Objects:            len(b.registry.Get(allPattern)),
			Subscriptions:      b.subs.Count(),
			PendingInvocations: b.rpcCoord.Count(),
			Clients:            len(b.outboxes),
		}, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// PublishStats emits the current Stats as a queryEvent on $sys/stats, the
// same side-channel convention as $sys/log activity records.
func (b *Broker) PublishStats() error {
	stats, err := b.Stats()
	if err != nil {
		return err
	}
	_, err = b.submit(func(b *Broker) (any, *Error) {
		b.deliver(b.router.OnEvent(b.subs, statsSubject, "snapshot", stats.encode()))
		return nil, nil
	})
	return err
}
