package events

import "sync"

// Operational is implemented by events that belong to a single in-flight
// model operation. Cleanup subscribers are scoped by operation ID so one
// operation's safety net never touches another operation's resources.
type Operational interface {
	OperationID() uint64
}

// CleanupSubscriber is the per-operation safety net: registered before an
// asynchronous task is issued, it receives the operation's events only if
// no real subscriber was present, closes any carried resource, and then
// unregisters itself. Whether or not a consumer ever existed, a carried
// resource is closed exactly once:
//
//	posted with subscriber  -> subscriber owns and closes it
//	posted with none        -> cleanup closes it, then self-unregisters
//
// Release is called by the issuing operation once its terminal event has
// been posted, covering the delivered case.
type CleanupSubscriber struct {
	bus *Bus
	op  uint64

	mu       sync.Mutex
	tok      Token
	released bool
}

// NewCleanup registers a cleanup subscriber for the given operation.
func NewCleanup(bus *Bus, op uint64) *CleanupSubscriber {
	c := &CleanupSubscriber{bus: bus, op: op}
	c.tok = bus.SubscribeDead(c.handle)
	return c
}

func (c *CleanupSubscriber) handle(ev any) {
	oe, ok := ev.(Operational)
	if !ok || oe.OperationID() != c.op {
		return
	}
	if rc, ok := ev.(ResourceCarrier); ok {
		if res := rc.Resource(); res != nil {
			_ = res.Close()
		}
	}
	c.Release()
}

// Release unregisters the subscriber. Idempotent.
func (c *CleanupSubscriber) Release() {
	c.mu.Lock()
	released := c.released
	c.released = true
	c.mu.Unlock()
	if !released {
		c.bus.Unsubscribe(c.tok)
	}
}
