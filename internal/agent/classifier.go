package agent

import (
	"math"
	"time"

	"github.com/jmikh/recordio/internal/events"
)

// Classification thresholds. A press that is both short and still is a click;
// anything else is a drag.
const (
	ClickTimeThreshold = 500 * time.Millisecond
	// ClickDistanceThreshold is in device-scaled pixels.
	ClickDistanceThreshold = 5.0
)

// TypingIdleWindow is how recently an editable keystroke must have occurred
// for typing to count as active.
const TypingIdleWindow = 1000 * time.Millisecond

// downState buffers a pointer-down until its matching up arrives. Positions
// are already device-scaled.
type downState struct {
	x, y       float64
	at         time.Time
	target     ElementInfo
	targetRect events.Rect
	path       []events.Point
}

// classifyPointerUp decides click vs drag for a buffered down and its up.
// upX/upY are device-scaled. The returned event carries session-relative
// times computed against startMs.
func classifyPointerUp(down *downState, upX, upY float64, upAt time.Time, startMs int64) events.Event {
	elapsed := upAt.Sub(down.at)
	displacement := math.Hypot(upX-down.x, upY-down.y)

	if elapsed <= ClickTimeThreshold && displacement < ClickDistanceThreshold {
		rect := down.targetRect
		return events.Event{
			Kind:       events.KindClick,
			Time:       down.at.UnixMilli() - startMs,
			X:          down.x,
			Y:          down.y,
			TargetRect: &rect,
		}
	}

	path := append(down.path, events.Point{X: upX, Y: upY, T: upAt.UnixMilli() - startMs})
	return events.Event{
		Kind:    events.KindDrag,
		Time:    down.at.UnixMilli() - startMs,
		X:       down.x,
		Y:       down.y,
		Path:    path,
		EndTime: upAt.UnixMilli() - startMs,
	}
}

// nonTextInputTypes are input kinds that never count as editable.
var nonTextInputTypes = map[string]bool{
	"checkbox": true,
	"radio":    true,
	"button":   true,
	"image":    true,
	"submit":   true,
	"reset":    true,
	"range":    true,
	"color":    true,
}

// isEditable reports whether keystrokes on the element constitute typing.
func isEditable(el ElementInfo) bool {
	switch el.Kind {
	case ElementContentEditable, ElementTextArea:
		return true
	case ElementInput:
		return !nonTextInputTypes[el.InputType]
	}
	return false
}

// isPasswordTarget excludes password inputs from click and key capture.
func isPasswordTarget(el ElementInfo) bool {
	return el.Kind == ElementInput && el.InputType == "password"
}

// modifierKeys are never captured on their own.
var modifierKeys = map[string]bool{
	"Shift":   true,
	"Control": true,
	"Alt":     true,
	"Meta":    true,
}

// specialKeys are captured even on editable targets.
var specialKeys = map[string]bool{
	"Enter":     true,
	"Tab":       true,
	"Escape":    true,
	"Backspace": true,
	"Delete":    true,
}

// shouldCaptureKey applies the keystroke rules: bare modifiers never; editable
// targets only modified or special keys; everything else everywhere.
func shouldCaptureKey(ev KeyEvent, editable bool) bool {
	if modifierKeys[ev.Key] {
		return false
	}
	if isPasswordTarget(ev.Target) {
		return false
	}
	if !editable {
		return true
	}
	return len(ev.Modifiers) > 0 || specialKeys[ev.Key]
}
