package events

import (
	"encoding/json"
	"testing"
)

func TestBufferCategorizes(t *testing.T) {
	b := NewBuffer()

	b.Append(Event{Kind: KindPosition, Time: 10, X: 1, Y: 2})
	b.Append(Event{Kind: KindClick, Time: 20, X: 3, Y: 4})
	b.Append(Event{Kind: KindDrag, Time: 30, EndTime: 90})
	b.Append(Event{Kind: KindKey, Time: 40, Key: "Enter"})
	b.Append(Event{Kind: KindScroll, Time: 50, DeltaY: -120})
	b.Append(Event{Kind: KindTyping, Time: 60, EndTime: 200})
	b.Append(Event{Kind: KindNavigation, Time: 70, URL: "https://example.com"})

	if b.Total() != 7 {
		t.Fatalf("Total = %d, want 7", b.Total())
	}
	for name, n := range map[string]int{
		"positions":   len(b.Positions),
		"clicks":      len(b.Clicks),
		"drags":       len(b.Drags),
		"keys":        len(b.Keys),
		"scrolls":     len(b.Scrolls),
		"typing":      len(b.Typing),
		"navigations": len(b.Navigations),
	} {
		if n != 1 {
			t.Errorf("%s has %d events, want 1", name, n)
		}
	}
}

func TestBufferDropsUnknownKind(t *testing.T) {
	b := NewBuffer()
	b.Append(Event{Kind: Kind("hover"), Time: 5})
	if b.Total() != 0 {
		t.Errorf("unknown kind was buffered, Total = %d", b.Total())
	}
}

func TestBufferPreservesArrivalOrder(t *testing.T) {
	b := NewBuffer()
	for i := int64(0); i < 5; i++ {
		b.Append(Event{Kind: KindClick, Time: i * 100})
	}
	for i, ev := range b.Clicks {
		if ev.Time != int64(i)*100 {
			t.Fatalf("clicks[%d].Time = %d, want %d", i, ev.Time, i*100)
		}
	}
}

func TestBufferMarshalShape(t *testing.T) {
	b := NewBuffer()
	b.Append(Event{Kind: KindClick, Time: 100, X: 10, Y: 20, TargetRect: &Rect{X: 5, Y: 5, Width: 50, Height: 20}})

	data, err := b.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"positions", "clicks", "drags", "keys", "scrolls", "typing", "navigations"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("serialized buffer missing %q", key)
		}
	}
}
