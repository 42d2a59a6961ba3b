package coordinator_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

// fakeResolver hands out deterministic capture handles.
type fakeResolver struct {
	mu    sync.Mutex
	fail  bool
	calls []string
}

func (r *fakeResolver) Resolve(_ context.Context, targetContextID string, mode session.Mode) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, targetContextID)
	if r.fail {
		return "", fmt.Errorf("target %s gone", targetContextID)
	}
	return "handle:" + string(mode) + ":" + targetContextID, nil
}

// fakeAgent scripts the page-side of the protocol: it answers the countdown
// handshake and records the instructions it receives.
type fakeAgent struct {
	disp     *bus.Dispatcher
	viewport protocol.CountdownDone
	silent   bool // never answer the countdown

	mu     sync.Mutex
	begins []protocol.BeginCapture
	ends   []protocol.Envelope
}

func newFakeAgent(d *bus.Dispatcher, contextID string) *fakeAgent {
	a := &fakeAgent{
		disp:     d,
		viewport: protocol.CountdownDone{Width: 800, Height: 600, DevicePixelRatio: 2},
	}
	_ = d.Register(protocol.AgentContext(contextID), func(env protocol.Envelope) { a.handle(contextID, env) })
	return a
}

func (a *fakeAgent) handle(contextID string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePrepareCountdown:
		if a.silent {
			return
		}
		reply := protocol.MustNew(protocol.TypeCountdownDone, env.SessionID, a.viewport)
		reply.CorrelationID = env.CorrelationID
		reply.From = protocol.AgentContext(contextID)
		a.disp.Send(env.From, reply)
	case protocol.TypeBeginCapture:
		var p protocol.BeginCapture
		if env.Decode(&p) == nil {
			a.mu.Lock()
			a.begins = append(a.begins, p)
			a.mu.Unlock()
		}
	case protocol.TypeEndCapture:
		a.mu.Lock()
		a.ends = append(a.ends, env)
		a.mu.Unlock()
	}
}

func (a *fakeAgent) beginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.begins)
}

func (a *fakeAgent) lastBegin() (protocol.BeginCapture, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.begins) == 0 {
		return protocol.BeginCapture{}, false
	}
	return a.begins[len(a.begins)-1], true
}

func (a *fakeAgent) endCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ends)
}

// deadHost provisions successfully but registers nothing on the bus, so the
// worker readiness handshake can never succeed.
type deadHost struct {
	mu          sync.Mutex
	provisioned bool
	teardowns   int
}

func (h *deadHost) Provision() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.provisioned = true
	return nil
}

func (h *deadHost) Teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.provisioned = false
	h.teardowns++
}

func (h *deadHost) Provisioned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.provisioned
}

// memLibrary is an in-memory blob store.
type memLibrary struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemLibrary() *memLibrary {
	return &memLibrary{blobs: make(map[string][]byte)}
}

func (l *memLibrary) Save(id string, blob []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.blobs[id]; exists {
		return fmt.Errorf("blob %s already exists", id)
	}
	l.blobs[id] = append([]byte(nil), blob...)
	return nil
}

func (l *memLibrary) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blobs)
}
