package media

import (
	"sync"
	"time"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/project"
	"github.com/jmikh/recordio/internal/protocol"
)

// Host owns the media worker's execution context: it constructs the worker,
// registers it on the bus, and tears it down on command. The coordinator
// provisions through this interface so a stale worker context can always be
// replaced by a fresh one.
type Host struct {
	disp    *bus.Dispatcher
	device  Device
	library project.Library
	chunk   time.Duration

	mu     sync.Mutex
	worker *Worker
}

// NewHost wires a host to the worker's dependencies.
func NewHost(d *bus.Dispatcher, device Device, library project.Library, chunkInterval time.Duration) *Host {
	return &Host{disp: d, device: device, library: library, chunk: chunkInterval}
}

// Provision constructs the worker context. Exactly one worker may exist per
// context: provisioning over a live one is a context-lifecycle bug in the
// caller, not a recoverable condition.
func (h *Host) Provision() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.worker != nil {
		panic("media: worker already constructed in this context")
	}
	h.worker = NewWorker(h.device, h.library, h.chunk)
	handler := NewContextHandler(h.worker, h.disp)
	if err := h.disp.Register(protocol.ContextWorker, handler.Handle); err != nil {
		h.worker = nil
		return err
	}
	logging.Media("Worker context provisioned")
	return nil
}

// Teardown destroys the worker context, releasing any resources it still
// holds. Safe to call when nothing is provisioned.
func (h *Host) Teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.worker == nil {
		return
	}
	h.disp.Unregister(protocol.ContextWorker)
	h.worker.Release()
	h.worker = nil
	logging.Media("Worker context torn down")
}

// Provisioned reports whether a worker context currently exists.
func (h *Host) Provisioned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.worker != nil
}

// Worker exposes the live worker for in-process inspection (tests, daemon
// status). Nil when not provisioned.
func (h *Host) Worker() *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.worker
}
