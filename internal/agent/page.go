// Package agent implements the in-page capture agent: it classifies raw input
// into semantic events, runs the pre-recording countdown, and forwards events
// toward the media worker. All agent state is confined to a single run-loop
// goroutine (the page context is cooperatively scheduled and single-threaded);
// the host page is reached only through the Page capability.
package agent

import (
	"time"

	"github.com/jmikh/recordio/internal/events"
)

// Viewport is the page's live geometry. Width and height are CSS pixels;
// DevicePixelRatio converts them to device pixels.
type Viewport struct {
	Width            int
	Height           int
	DevicePixelRatio float64
}

// ElementKind coarsely classifies an input target for editability rules.
type ElementKind string

const (
	ElementInput           ElementKind = "input"
	ElementTextArea        ElementKind = "textarea"
	ElementContentEditable ElementKind = "contenteditable"
	ElementOther           ElementKind = "other"
)

// ElementInfo describes one page element as seen by the host. ID is stable
// only within a page lifetime; a navigation invalidates all element identity.
type ElementInfo struct {
	ID        string
	Kind      ElementKind
	InputType string // input elements only: "text", "password", "checkbox", ...
	Rect      events.Rect
}

// PointerEvent is a raw pointer transition. Coordinates are page-relative CSS
// pixels; the agent scales them by the device pixel ratio.
type PointerEvent struct {
	Down   bool
	X      float64
	Y      float64
	Target ElementInfo
	Time   time.Time
}

// KeyEvent is one raw keystroke.
type KeyEvent struct {
	Key       string
	Modifiers []string
	Target    ElementInfo
	Time      time.Time
}

// ScrollEvent is one raw scroll notification.
type ScrollEvent struct {
	X      float64
	Y      float64
	DeltaX float64
	DeltaY float64
	Time   time.Time
}

// NavigationEvent reports a location change: initial load, browser
// back/forward, or programmatic history mutation. Surfacing the programmatic
// case is a required capability of the page host.
type NavigationEvent struct {
	URL  string
	Time time.Time
}

// Unsubscribe releases one input-observation subscription. Subscriptions are
// released deterministically when the agent stops.
type Unsubscribe func()

// Page is the capability surface the hosting page environment must supply.
// Every method is safe to call from the agent's run loop.
type Page interface {
	Viewport() Viewport
	// Focused and Visible gate every emission: interactions in background or
	// hidden pages are dropped, never buffered.
	Focused() bool
	Visible() bool
	// FocusedElement returns the element holding input focus, if any.
	FocusedElement() (ElementInfo, bool)
	// PointerPosition returns the most recent pointer position in CSS pixels.
	PointerPosition() (x, y float64, ok bool)

	SubscribePointer(func(PointerEvent)) Unsubscribe
	SubscribeKeys(func(KeyEvent)) Unsubscribe
	SubscribeScroll(func(ScrollEvent)) Unsubscribe
	SubscribeNavigation(func(NavigationEvent)) Unsubscribe

	// ShowCountdown renders the full-viewport, input-transparent overlay with
	// the given number; HideCountdown removes it.
	ShowCountdown(n int) error
	HideCountdown() error

	// BroadcastCleanup signals any older agent instance in this page to stop;
	// SubscribeCleanup is how an instance hears a successor's broadcast.
	BroadcastCleanup(agentID string)
	SubscribeCleanup(func(agentID string)) Unsubscribe
}
