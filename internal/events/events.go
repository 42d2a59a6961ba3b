// Package events defines the semantic user-interaction event model shared by the
// capture agent (producer) and the media worker (consumer). Raw input is classified
// in the page context; only classified events cross the context boundary.
package events

// Kind identifies the semantic category of an event.
type Kind string

const (
	KindPosition   Kind = "position"
	KindClick      Kind = "click"
	KindDrag       Kind = "drag"
	KindKey        Kind = "key"
	KindScroll     Kind = "scroll"
	KindTyping     Kind = "typing"
	KindNavigation Kind = "navigation"
)

// Point is one sampled pointer position. T is session-relative milliseconds.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// Rect is a screen rectangle in device-scaled pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Event is one classified user-interaction record. Time is session-relative
// milliseconds (translated from wall clock against the session startTime).
// Fields beyond Kind and Time are populated per kind.
type Event struct {
	Kind Kind  `json:"kind"`
	Time int64 `json:"time"`

	// Position, click, scroll: pointer coordinates (device-scaled).
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// Drag: sampled path from pointer-down to pointer-up.
	// Typing: not used. EndTime is shared by drag and typing.
	Path    []Point `json:"path,omitempty"`
	EndTime int64   `json:"endTime,omitempty"`

	// Click, typing: bounding rectangle of the target element.
	TargetRect *Rect `json:"targetRect,omitempty"`

	// Key events.
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`

	// Scroll deltas.
	DeltaX float64 `json:"deltaX,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`

	// Navigation.
	URL string `json:"url,omitempty"`
}
