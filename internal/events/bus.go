// Package events implements the typed publish/subscribe bus carrying CRUD
// and sync results between the background tasks and their consumers, plus
// the cleanup-subscriber protocol that guarantees closeable payloads are
// released exactly once even when nobody is listening.
//
// Dispatch is explicit: a registry maps event type to an ordered handler
// list and handlers are invoked directly. There is no method-name
// convention and no reflective call; reflection is used only to derive the
// registry key from the event's static type.
package events

import (
	"io"
	"reflect"
	"sync"
)

// Token identifies a subscription for later removal.
type Token struct {
	key reflect.Type // nil for dead-event subscriptions
	id  uint64
}

type handlerEntry struct {
	id uint64
	fn func(any)
}

// Bus is a synchronous typed event bus. Post delivers to subscribers of the
// event's exact type, in subscription order, on the posting goroutine.
// Events with no typed subscriber are handed to dead-event handlers
// instead; that is the hook the cleanup protocol builds on.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[reflect.Type][]handlerEntry
	dead   []handlerEntry
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type][]handlerEntry)}
}

// Subscribe registers a handler for events of type E and returns a token
// for removal.
func Subscribe[E any](b *Bus, fn func(E)) Token {
	key := reflect.TypeOf((*E)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[key] = append(b.subs[key], handlerEntry{id: b.nextID, fn: func(ev any) { fn(ev.(E)) }})
	return Token{key: key, id: b.nextID}
}

// SubscribeDead registers a handler receiving every event that had no typed
// subscriber at the moment it was posted.
func (b *Bus) SubscribeDead(fn func(any)) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.dead = append(b.dead, handlerEntry{id: b.nextID, fn: fn})
	return Token{id: b.nextID}
}

// Unsubscribe removes a subscription. Unknown or already-removed tokens are
// ignored.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tok.key == nil {
		b.dead = removeEntry(b.dead, tok.id)
		return
	}
	entries := removeEntry(b.subs[tok.key], tok.id)
	if len(entries) == 0 {
		delete(b.subs, tok.key)
	} else {
		b.subs[tok.key] = entries
	}
}

// HasSubscriber reports whether any typed subscriber exists for events of
// type E.
func HasSubscriber[E any](b *Bus) bool {
	key := reflect.TypeOf((*E)(nil)).Elem()
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key]) > 0
}

// Post delivers the event synchronously. Handlers registered during
// delivery do not receive the event being delivered.
func (b *Bus) Post(event any) {
	key := reflect.TypeOf(event)
	b.mu.Lock()
	entries := b.subs[key]
	var targets []handlerEntry
	if len(entries) > 0 {
		targets = append(targets, entries...)
	} else {
		targets = append(targets, b.dead...)
	}
	b.mu.Unlock()
	for _, entry := range targets {
		entry.fn(event)
	}
}

func removeEntry(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// ResourceCarrier is implemented by events that carry a closeable resource
// whose ownership transfers to the receiving subscriber.
type ResourceCarrier interface {
	// Resource returns the carried closeable, or nil.
	Resource() io.Closer
}
