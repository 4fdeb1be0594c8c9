// Package observer implements the fan-out event bus shared by nodes and the
// cluster transport. Subscribers are invoked synchronously, on the
// goroutine that published the event, matching the callback-list style of
// the original simulator this package is modeled on.
package observer

import "sync"

// Data carries event payload fields. Keys are event-specific; see the
// publishers in internal/election and internal/transport for the shape used
// by each event type.
type Data map[string]interface{}

// Callback is the observer signature: an event kind plus its payload.
type Callback func(eventType string, data Data)

// Bus is a synchronous, panic-isolated fan-out of events to every
// registered Callback. A Bus is safe for concurrent Subscribe and Publish
// calls, though the normal usage pattern (per spec.md's concurrency model)
// registers all subscribers before Start and never after.
type Bus struct {
	mu          sync.Mutex
	subscribers []Callback
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers cb to receive every future Publish call.
func (b *Bus) Subscribe(cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, cb)
}

// Publish fans eventType/data out to every subscriber. Subscribers are
// snapshotted under the bus lock and then invoked without holding it, so a
// subscriber that re-enters the bus (directly or indirectly) cannot
// deadlock against Subscribe or another Publish.
//
// A subscriber that panics is isolated: the panic is recovered so it cannot
// crash the publishing goroutine or block delivery to the remaining
// subscribers (the ObserverFault case in the error taxonomy).
func (b *Bus) Publish(eventType string, data Data) {
	b.mu.Lock()
	subs := make([]Callback, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, cb := range subs {
		invoke(cb, eventType, data)
	}
}

func invoke(cb Callback, eventType string, data Data) {
	defer func() {
		recover() // ObserverFault: a bad subscriber must not break the others
	}()
	cb(eventType, data)
}
