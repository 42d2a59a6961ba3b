// Package pagehost adapts a live browser page (driven over CDP via Rod) to the
// capture agent's Page capability. Raw input is observed by injected listeners
// that append into an in-page buffer; a poll loop drains the buffer and fans
// events out to subscribers. CDP frame-navigation events cover loads the
// injected hooks cannot survive.
package pagehost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jmikh/recordio/internal/agent"
	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/logging"
)

// DrainInterval is how often the in-page event buffer is drained.
const DrainInterval = 50 * time.Millisecond

// Host implements agent.Page for one browser page.
type Host struct {
	page   *rod.Page
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	nextSubID int
	pointer   map[int]func(agent.PointerEvent)
	keys      map[int]func(agent.KeyEvent)
	scroll    map[int]func(agent.ScrollEvent)
	nav       map[int]func(agent.NavigationEvent)
	cleanup   map[int]func(string)

	lastX, lastY float64
	hasPointer   bool

	stopped chan struct{}
	navDone chan struct{}
	closed  bool
}

// Attach binds a host to an already-open page and installs the input hooks.
// The drain loop runs until Close or ctx cancellation.
func Attach(ctx context.Context, page *rod.Page) (*Host, error) {
	hostCtx, cancel := context.WithCancel(ctx)
	h := &Host{
		page:    page,
		ctx:     hostCtx,
		cancel:  cancel,
		pointer: make(map[int]func(agent.PointerEvent)),
		keys:    make(map[int]func(agent.KeyEvent)),
		scroll:  make(map[int]func(agent.ScrollEvent)),
		nav:     make(map[int]func(agent.NavigationEvent)),
		cleanup: make(map[int]func(string)),
		stopped: make(chan struct{}),
		navDone: make(chan struct{}),
	}

	if err := h.installHooks(); err != nil {
		cancel()
		return nil, fmt.Errorf("install page hooks: %w", err)
	}

	// Frame navigations tear down the injected hooks; they are re-installed
	// here, and the navigation itself is surfaced to subscribers. The wait
	// call blocks until the host context is cancelled.
	waitNav := page.Context(hostCtx).EachEvent(func(ev *proto.PageFrameNavigated) {
		h.dispatchNavigation(agent.NavigationEvent{URL: ev.Frame.URL, Time: time.Now()})
		if err := h.installHooks(); err != nil {
			logging.HostDebug("Hook reinstall after navigation: %v", err)
		}
	})
	go func() {
		defer close(h.navDone)
		waitNav()
	}()

	go h.drainLoop()
	logging.Host("Attached to page target %s", page.TargetID)
	return h, nil
}

// installHooks injects the input listeners and the history-API hook. Safe to
// call repeatedly; the page-side guard makes it idempotent per document.
func (h *Host) installHooks() error {
	_, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS:           hookScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	return err
}

// rawEvent is the wire form of one buffered in-page event.
type rawEvent struct {
	Type      string   `json:"type"`
	Down      bool     `json:"down"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	DeltaX    float64  `json:"dx"`
	DeltaY    float64  `json:"dy"`
	Key       string   `json:"key"`
	Modifiers []string `json:"mods"`
	Target    rawElem  `json:"target"`
	URL       string   `json:"url"`
	AgentID   string   `json:"agentId"`
	TS        float64  `json:"ts"`
}

type rawElem struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	InputType string  `json:"inputType"`
	Left      float64 `json:"left"`
	Top       float64 `json:"top"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

func (e rawElem) toElementInfo() agent.ElementInfo {
	kind := agent.ElementKind(e.Kind)
	switch kind {
	case agent.ElementInput, agent.ElementTextArea, agent.ElementContentEditable:
	default:
		kind = agent.ElementOther
	}
	return agent.ElementInfo{
		ID:        e.ID,
		Kind:      kind,
		InputType: e.InputType,
		Rect:      events.Rect{X: e.Left, Y: e.Top, Width: e.Width, Height: e.Height},
	}
}

func (h *Host) drainLoop() {
	defer close(h.stopped)

	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.drainOnce()
		}
	}
}

func (h *Host) drainOnce() {
	res, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const buf = Array.isArray(window.__recordioEvents) ? window.__recordioEvents : [];
			window.__recordioEvents = [];
			return buf;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return
	}
	var batch []rawEvent
	if err := json.Unmarshal(raw, &batch); err != nil {
		return
	}

	for _, ev := range batch {
		at := time.UnixMilli(int64(ev.TS))
		switch ev.Type {
		case "pointer":
			h.mu.Lock()
			h.lastX, h.lastY = ev.X, ev.Y
			h.hasPointer = true
			h.mu.Unlock()
			h.dispatchPointer(agent.PointerEvent{
				Down: ev.Down, X: ev.X, Y: ev.Y,
				Target: ev.Target.toElementInfo(), Time: at,
			})
		case "move":
			h.mu.Lock()
			h.lastX, h.lastY = ev.X, ev.Y
			h.hasPointer = true
			h.mu.Unlock()
		case "key":
			h.dispatchKey(agent.KeyEvent{
				Key: ev.Key, Modifiers: ev.Modifiers,
				Target: ev.Target.toElementInfo(), Time: at,
			})
		case "scroll":
			h.dispatchScroll(agent.ScrollEvent{
				X: ev.X, Y: ev.Y, DeltaX: ev.DeltaX, DeltaY: ev.DeltaY, Time: at,
			})
		case "navigation":
			// History-API mutations do not fire PageFrameNavigated; the
			// injected hook reports them through the buffer instead.
			h.dispatchNavigation(agent.NavigationEvent{URL: ev.URL, Time: at})
		case "cleanup":
			h.dispatchCleanup(ev.AgentID)
		}
	}
}

// Viewport implements agent.Page.
func (h *Host) Viewport() agent.Viewport {
	res, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS:      `() => ({ w: window.innerWidth, h: window.innerHeight, dpr: window.devicePixelRatio })`,
		ByValue: true,
	})
	if err != nil || res == nil {
		return agent.Viewport{DevicePixelRatio: 1}
	}
	var v struct {
		W   int     `json:"w"`
		H   int     `json:"h"`
		DPR float64 `json:"dpr"`
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil || json.Unmarshal(raw, &v) != nil {
		return agent.Viewport{DevicePixelRatio: 1}
	}
	if v.DPR <= 0 {
		v.DPR = 1
	}
	return agent.Viewport{Width: v.W, Height: v.H, DevicePixelRatio: v.DPR}
}

// Focused implements agent.Page.
func (h *Host) Focused() bool {
	return h.evalBool(`() => document.hasFocus()`)
}

// Visible implements agent.Page.
func (h *Host) Visible() bool {
	return h.evalBool(`() => document.visibilityState === 'visible'`)
}

func (h *Host) evalBool(js string) bool {
	res, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{JS: js, ByValue: true})
	if err != nil || res == nil {
		return false
	}
	return res.Value.Bool()
}

// FocusedElement implements agent.Page.
func (h *Host) FocusedElement() (agent.ElementInfo, bool) {
	res, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS:      `() => window.__recordioDescribe ? window.__recordioDescribe(document.activeElement) : null`,
		ByValue: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return agent.ElementInfo{}, false
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return agent.ElementInfo{}, false
	}
	var el rawElem
	if err := json.Unmarshal(raw, &el); err != nil || el.ID == "" {
		return agent.ElementInfo{}, false
	}
	return el.toElementInfo(), true
}

// PointerPosition implements agent.Page from the drain loop's last observation.
func (h *Host) PointerPosition() (float64, float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastX, h.lastY, h.hasPointer
}

// subscribe registers cb in the given map and returns its release func.
func subscribe[T any](h *Host, m map[int]T, cb T) agent.Unsubscribe {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	m[id] = cb
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(m, id)
		h.mu.Unlock()
	}
}

// SubscribePointer implements agent.Page.
func (h *Host) SubscribePointer(cb func(agent.PointerEvent)) agent.Unsubscribe {
	return subscribe(h, h.pointer, cb)
}

// SubscribeKeys implements agent.Page.
func (h *Host) SubscribeKeys(cb func(agent.KeyEvent)) agent.Unsubscribe {
	return subscribe(h, h.keys, cb)
}

// SubscribeScroll implements agent.Page.
func (h *Host) SubscribeScroll(cb func(agent.ScrollEvent)) agent.Unsubscribe {
	return subscribe(h, h.scroll, cb)
}

// SubscribeNavigation implements agent.Page.
func (h *Host) SubscribeNavigation(cb func(agent.NavigationEvent)) agent.Unsubscribe {
	return subscribe(h, h.nav, cb)
}

// SubscribeCleanup implements agent.Page.
func (h *Host) SubscribeCleanup(cb func(string)) agent.Unsubscribe {
	return subscribe(h, h.cleanup, cb)
}

func (h *Host) dispatchPointer(ev agent.PointerEvent) {
	for _, cb := range snapshot(h, h.pointer) {
		cb(ev)
	}
}

func (h *Host) dispatchKey(ev agent.KeyEvent) {
	for _, cb := range snapshot(h, h.keys) {
		cb(ev)
	}
}

func (h *Host) dispatchScroll(ev agent.ScrollEvent) {
	for _, cb := range snapshot(h, h.scroll) {
		cb(ev)
	}
}

func (h *Host) dispatchNavigation(ev agent.NavigationEvent) {
	for _, cb := range snapshot(h, h.nav) {
		cb(ev)
	}
}

func (h *Host) dispatchCleanup(agentID string) {
	for _, cb := range snapshot(h, h.cleanup) {
		cb(agentID)
	}
}

// snapshot copies subscriber callbacks so dispatch runs without the lock.
func snapshot[T any](h *Host, m map[int]T) []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, 0, len(m))
	for _, cb := range m {
		out = append(out, cb)
	}
	return out
}

// ShowCountdown implements agent.Page: a full-viewport, input-transparent
// overlay showing n.
func (h *Host) ShowCountdown(n int) error {
	_, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(n) => {
			let el = document.getElementById('__recordio_countdown');
			if (!el) {
				el = document.createElement('div');
				el.id = '__recordio_countdown';
				el.style.cssText = 'position:fixed;inset:0;z-index:2147483647;' +
					'display:flex;align-items:center;justify-content:center;' +
					'pointer-events:none;background:rgba(0,0,0,0.35);' +
					'color:#fff;font:700 160px system-ui,sans-serif;';
				document.documentElement.appendChild(el);
			}
			el.textContent = String(n);
		}
		`,
		ByValue: true,
		JSArgs:  []interface{}{n},
	})
	return err
}

// HideCountdown implements agent.Page.
func (h *Host) HideCountdown() error {
	_, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const el = document.getElementById('__recordio_countdown');
			if (el) el.remove();
		}
		`,
		ByValue: true,
	})
	return err
}

// BroadcastCleanup implements agent.Page: the signal travels through the
// in-page buffer so any older agent instance draining the same page hears it.
func (h *Host) BroadcastCleanup(agentID string) {
	_, err := h.page.Context(h.ctx).Evaluate(&rod.EvalOptions{
		JS: `
		(id) => {
			window.__recordioEvents = window.__recordioEvents || [];
			window.__recordioEvents.push({ type: 'cleanup', agentId: id, ts: Date.now() });
		}
		`,
		ByValue: true,
		JSArgs:  []interface{}{agentID},
	})
	if err != nil {
		logging.HostDebug("Cleanup broadcast: %v", err)
	}
}

// Close stops the navigation stream and waits for both loops to exit.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	<-h.stopped
	<-h.navDone
	logging.Host("Detached from page target %s", h.page.TargetID)
}
