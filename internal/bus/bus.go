// Package bus provides the asynchronous message fabric between the isolated
// execution contexts (coordinator, capture agent, media worker, UI clients).
// Delivery is at-most-once by design: a full or missing inbox drops the
// message, and receivers are written to be idempotent. Ordering is guaranteed
// only within a single sender→receiver channel.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/protocol"
)

// Handler processes one inbound envelope. Handlers run on the receiving
// context's single consumer goroutine, so a context never observes two of its
// own handlers running concurrently.
type Handler func(env protocol.Envelope)

const defaultInboxDepth = 64

type inbox struct {
	ch   chan protocol.Envelope
	done chan struct{}
}

// pendingCall is a live awaited request. owner is the context name that issued
// the Call; only envelopes addressed to the owner resolve it, so a request
// passing through Send can never satisfy its own waiter.
type pendingCall struct {
	owner string
	reply chan protocol.Envelope
}

// Dispatcher routes envelopes between named contexts.
type Dispatcher struct {
	mu      sync.RWMutex
	inboxes map[string]*inbox
	pending map[string]*pendingCall
	wg      sync.WaitGroup
	closed  bool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		inboxes: make(map[string]*inbox),
		pending: make(map[string]*pendingCall),
	}
}

// Register creates the inbox for a context and starts its consumer goroutine.
// Registering an already-registered name replaces the previous registration
// (the old consumer drains and exits), which is what context re-provisioning
// wants: a recreated worker must not receive messages addressed to its
// predecessor.
func (d *Dispatcher) Register(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("bus: nil handler for %q", name)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("bus: dispatcher closed")
	}
	if old, ok := d.inboxes[name]; ok {
		close(old.done)
	}
	in := &inbox{
		ch:   make(chan protocol.Envelope, defaultInboxDepth),
		done: make(chan struct{}),
	}
	d.inboxes[name] = in
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-in.done:
				return
			case env := <-in.ch:
				handler(env)
			}
		}
	}()

	logging.BusDebug("Registered context %q", name)
	return nil
}

// Unregister tears down a context's inbox. Messages sent to it afterwards are
// dropped, which models a destroyed execution context.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if in, ok := d.inboxes[name]; ok {
		close(in.done)
		delete(d.inboxes, name)
		logging.BusDebug("Unregistered context %q", name)
	}
}

// Registered reports whether a context currently has an inbox.
func (d *Dispatcher) Registered(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.inboxes[name]
	return ok
}

// Send delivers an envelope to a context without blocking. Returns false when
// the message was dropped (unknown context or full inbox). A reply addressed
// to a caller awaiting that correlation id is routed to the caller's waiter
// instead of its inbox.
func (d *Dispatcher) Send(to string, env protocol.Envelope) bool {
	if env.CorrelationID != "" {
		d.mu.RLock()
		waiter, ok := d.pending[env.CorrelationID]
		d.mu.RUnlock()
		if ok && waiter.owner == to {
			select {
			case waiter.reply <- env:
			default:
				// Waiter already satisfied or gone; at-most-once says drop.
			}
			return true
		}
	}

	d.mu.RLock()
	in, ok := d.inboxes[to]
	d.mu.RUnlock()
	if !ok {
		logging.BusDebug("Dropping %s for unknown context %q", env.Type, to)
		return false
	}

	select {
	case in.ch <- env:
		return true
	default:
		logging.Get(logging.CategoryBus).Warn("Inbox full, dropping %s for %q", env.Type, to)
		return false
	}
}

// Call sends a request and waits for the correlated reply, bounded by ctx.
// The caller name is stamped into From so the receiver can route the reply
// with a plain Send.
func (d *Dispatcher) Call(ctx context.Context, from, to string, env protocol.Envelope) (protocol.Envelope, error) {
	env.CorrelationID = uuid.NewString()
	env.From = from

	reply := make(chan protocol.Envelope, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return protocol.Envelope{}, fmt.Errorf("bus: dispatcher closed")
	}
	d.pending[env.CorrelationID] = &pendingCall{owner: from, reply: reply}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, env.CorrelationID)
		d.mu.Unlock()
	}()

	if !d.Send(to, env) {
		return protocol.Envelope{}, fmt.Errorf("bus: %q unreachable for %s", to, env.Type)
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// Close tears down every inbox and waits for consumer goroutines to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for name, in := range d.inboxes {
		close(in.done)
		delete(d.inboxes, name)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
