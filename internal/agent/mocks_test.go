package agent

import (
	"sync"
)

// fakePage is a scriptable Page implementation for run-loop tests.
type fakePage struct {
	mu sync.Mutex

	viewport Viewport
	focused  bool
	visible  bool

	focusedElem   ElementInfo
	hasFocusedEl  bool
	pointerX      float64
	pointerY      float64
	hasPointerPos bool

	pointerCb func(PointerEvent)
	keyCb     func(KeyEvent)
	scrollCb  func(ScrollEvent)
	navCb     func(NavigationEvent)
	cleanupCb func(string)

	countdownShown []int
	countdownHides int
	broadcasts     []string
}

func newFakePage() *fakePage {
	return &fakePage{
		viewport: Viewport{Width: 1000, Height: 800, DevicePixelRatio: 2},
		focused:  true,
		visible:  true,
	}
}

func (p *fakePage) Viewport() Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *fakePage) Focused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *fakePage) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

func (p *fakePage) setActive(focused, visible bool) {
	p.mu.Lock()
	p.focused = focused
	p.visible = visible
	p.mu.Unlock()
}

func (p *fakePage) FocusedElement() (ElementInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focusedElem, p.hasFocusedEl
}

func (p *fakePage) setFocusedElement(el ElementInfo, ok bool) {
	p.mu.Lock()
	p.focusedElem = el
	p.hasFocusedEl = ok
	p.mu.Unlock()
}

func (p *fakePage) PointerPosition() (float64, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pointerX, p.pointerY, p.hasPointerPos
}

func (p *fakePage) setPointer(x, y float64) {
	p.mu.Lock()
	p.pointerX, p.pointerY, p.hasPointerPos = x, y, true
	p.mu.Unlock()
}

func (p *fakePage) SubscribePointer(cb func(PointerEvent)) Unsubscribe {
	p.mu.Lock()
	p.pointerCb = cb
	p.mu.Unlock()
	return func() {}
}

func (p *fakePage) SubscribeKeys(cb func(KeyEvent)) Unsubscribe {
	p.mu.Lock()
	p.keyCb = cb
	p.mu.Unlock()
	return func() {}
}

func (p *fakePage) SubscribeScroll(cb func(ScrollEvent)) Unsubscribe {
	p.mu.Lock()
	p.scrollCb = cb
	p.mu.Unlock()
	return func() {}
}

func (p *fakePage) SubscribeNavigation(cb func(NavigationEvent)) Unsubscribe {
	p.mu.Lock()
	p.navCb = cb
	p.mu.Unlock()
	return func() {}
}

func (p *fakePage) SubscribeCleanup(cb func(string)) Unsubscribe {
	p.mu.Lock()
	p.cleanupCb = cb
	p.mu.Unlock()
	return func() {}
}

func (p *fakePage) ShowCountdown(n int) error {
	p.mu.Lock()
	p.countdownShown = append(p.countdownShown, n)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) HideCountdown() error {
	p.mu.Lock()
	p.countdownHides++
	p.mu.Unlock()
	return nil
}

func (p *fakePage) BroadcastCleanup(agentID string) {
	p.mu.Lock()
	p.broadcasts = append(p.broadcasts, agentID)
	p.mu.Unlock()
}

func (p *fakePage) firePointer(ev PointerEvent) {
	p.mu.Lock()
	cb := p.pointerCb
	p.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (p *fakePage) fireKey(ev KeyEvent) {
	p.mu.Lock()
	cb := p.keyCb
	p.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (p *fakePage) fireScroll(ev ScrollEvent) {
	p.mu.Lock()
	cb := p.scrollCb
	p.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (p *fakePage) fireNavigation(ev NavigationEvent) {
	p.mu.Lock()
	cb := p.navCb
	p.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (p *fakePage) fireCleanup(agentID string) {
	p.mu.Lock()
	cb := p.cleanupCb
	p.mu.Unlock()
	if cb != nil {
		cb(agentID)
	}
}

func (p *fakePage) shownCountdowns() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.countdownShown))
	copy(out, p.countdownShown)
	return out
}
