package events

import (
	"io"
	"testing"
)

type pingEvent struct{ n int }
type otherEvent struct{}

func TestPostDeliversByExactType(t *testing.T) {
	bus := NewBus()
	var got []int
	Subscribe(bus, func(ev pingEvent) { got = append(got, ev.n) })
	Subscribe(bus, func(ev otherEvent) { t.Error("wrong type delivered") })

	bus.Post(pingEvent{n: 1})
	bus.Post(pingEvent{n: 2})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("received %v, want [1 2] in order", got)
	}
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	Subscribe(bus, func(pingEvent) { order = append(order, "first") })
	Subscribe(bus, func(pingEvent) { order = append(order, "second") })
	bus.Post(pingEvent{})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("delivery order %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	tok := Subscribe(bus, func(pingEvent) { calls++ })
	bus.Post(pingEvent{})
	bus.Unsubscribe(tok)
	bus.Unsubscribe(tok) // repeat is harmless
	bus.Post(pingEvent{})
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if HasSubscriber[pingEvent](bus) {
		t.Fatal("subscriber should be gone")
	}
}

func TestDeadHandlersSeeOnlyUnclaimedEvents(t *testing.T) {
	bus := NewBus()
	var dead []any
	bus.SubscribeDead(func(ev any) { dead = append(dead, ev) })

	bus.Post(pingEvent{n: 1}) // nobody listening: goes dead
	Subscribe(bus, func(pingEvent) {})
	bus.Post(pingEvent{n: 2}) // claimed

	if len(dead) != 1 {
		t.Fatalf("dead handler saw %d events, want 1", len(dead))
	}
	if ev, ok := dead[0].(pingEvent); !ok || ev.n != 1 {
		t.Fatalf("dead handler saw %v", dead[0])
	}
}

type closeCounter struct{ closes int }

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

type loadedEvent struct {
	op  uint64
	res io.Closer
}

func (e loadedEvent) OperationID() uint64 { return e.op }
func (e loadedEvent) Resource() io.Closer { return e.res }

func TestCleanupClosesUnclaimedResourceExactlyOnce(t *testing.T) {
	bus := NewBus()
	res := &closeCounter{}
	c := NewCleanup(bus, 7)

	bus.Post(loadedEvent{op: 7, res: res})
	c.Release()

	if res.closes != 1 {
		t.Fatalf("resource closed %d times, want exactly 1", res.closes)
	}
	// The cleanup unregistered itself; later unclaimed events are not its
	// problem.
	other := &closeCounter{}
	bus.Post(loadedEvent{op: 7, res: other})
	if other.closes != 0 {
		t.Fatal("released cleanup must not touch later events")
	}
}

func TestCleanupLeavesDeliveredResourceAlone(t *testing.T) {
	bus := NewBus()
	res := &closeCounter{}
	var received io.Closer
	Subscribe(bus, func(ev loadedEvent) { received = ev.res })

	c := NewCleanup(bus, 9)
	bus.Post(loadedEvent{op: 9, res: res})
	c.Release()
	c.Release() // idempotent

	if received == nil {
		t.Fatal("subscriber should have received the event")
	}
	if res.closes != 0 {
		t.Fatalf("delivered resource closed %d times by cleanup, want 0", res.closes)
	}
}

func TestCleanupIsScopedToItsOperation(t *testing.T) {
	bus := NewBus()
	mine := &closeCounter{}
	theirs := &closeCounter{}
	c1 := NewCleanup(bus, 1)
	c2 := NewCleanup(bus, 2)

	bus.Post(loadedEvent{op: 1, res: mine})
	bus.Post(loadedEvent{op: 2, res: theirs})
	c1.Release()
	c2.Release()

	if mine.closes != 1 || theirs.closes != 1 {
		t.Fatalf("closes = %d/%d, want 1/1", mine.closes, theirs.closes)
	}
}

func TestCleanupIgnoresNonOperationalEvents(t *testing.T) {
	bus := NewBus()
	c := NewCleanup(bus, 3)
	defer c.Release()
	bus.Post(pingEvent{n: 1}) // not Operational, must not panic or release
	res := &closeCounter{}
	bus.Post(loadedEvent{op: 3, res: res})
	if res.closes != 1 {
		t.Fatal("cleanup should still be registered after unrelated events")
	}
}
