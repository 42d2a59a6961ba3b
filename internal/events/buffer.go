package events

import "encoding/json"

// Buffer accumulates classified events for one session, categorized into seven
// ordered append-only slices. It is owned by a single goroutine (the media
// worker serializes access); it carries no lock of its own.
type Buffer struct {
	Positions   []Event `json:"positions"`
	Clicks      []Event `json:"clicks"`
	Drags       []Event `json:"drags"`
	Keys        []Event `json:"keys"`
	Scrolls     []Event `json:"scrolls"`
	Typing      []Event `json:"typing"`
	Navigations []Event `json:"navigations"`
}

// NewBuffer returns an empty event buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append routes an event into its category. Events with an unrecognized kind
// are dropped; the producer side is versioned independently and may be newer.
func (b *Buffer) Append(ev Event) {
	switch ev.Kind {
	case KindPosition:
		b.Positions = append(b.Positions, ev)
	case KindClick:
		b.Clicks = append(b.Clicks, ev)
	case KindDrag:
		b.Drags = append(b.Drags, ev)
	case KindKey:
		b.Keys = append(b.Keys, ev)
	case KindScroll:
		b.Scrolls = append(b.Scrolls, ev)
	case KindTyping:
		b.Typing = append(b.Typing, ev)
	case KindNavigation:
		b.Navigations = append(b.Navigations, ev)
	}
}

// Total returns the number of buffered events across all categories.
func (b *Buffer) Total() int {
	return len(b.Positions) + len(b.Clicks) + len(b.Drags) +
		len(b.Keys) + len(b.Scrolls) + len(b.Typing) + len(b.Navigations)
}

// Marshal serializes the buffer for durable storage. Flushed exactly once,
// at session finalize.
func (b *Buffer) Marshal() ([]byte, error) {
	return json.Marshal(b)
}
