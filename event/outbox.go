package event

import "errors"

// ErrOutboxFull is returned by Outbox.Enqueue when a subscriber's bounded
// queue has no room left. The broker treats this as fatal to that
// client's session: a slow subscriber backpressures only itself.
var ErrOutboxFull = errors.New("event: outbox is full")

// Outbox is the bounded, single-producer/single-consumer queue a
// transport session exposes to the broker. The broker is the only
// producer; the owning transport is the only consumer, draining it to
// serialize and flush notifications over the wire.
type Outbox interface {
	Enqueue(Notification) error
}

// ChannelOutbox is the default Outbox: a buffered channel with a
// non-blocking send, so the broker's worker loop never stalls waiting on
// a subscriber.
type ChannelOutbox struct {
	ch chan Notification
}

// NewChannelOutbox creates an outbox with room for size pending
// notifications.
func NewChannelOutbox(size int) *ChannelOutbox {
	return &ChannelOutbox{ch: make(chan Notification, size)}
}

// Enqueue attempts a non-blocking send, returning ErrOutboxFull if the
// buffer is saturated.
func (o *ChannelOutbox) Enqueue(n Notification) error {
	select {
	case o.ch <- n:
		return nil
	default:
		return ErrOutboxFull
	}
}

// C exposes the receive side for the owning transport's flush loop.
func (o *ChannelOutbox) C() <-chan Notification {
	return o.ch
}

// Close releases the channel. Safe to call once the owning session has
// stopped reading from C.
func (o *ChannelOutbox) Close() {
	close(o.ch)
}
