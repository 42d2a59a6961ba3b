package agent

import (
	"context"
	"testing"
	"time"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/protocol"
)

const testContextID = "tab-1"

func testConfig() Config {
	return Config{
		MousePollInterval:  10 * time.Millisecond,
		TypingPollInterval: 10 * time.Millisecond,
		CountdownStep:      10 * time.Millisecond,
		CountdownFrom:      3,
	}
}

type agentFixture struct {
	page   *fakePage
	disp   *bus.Dispatcher
	events chan events.Event
	done   chan struct{}
	cancel context.CancelFunc
}

func startAgent(t *testing.T) *agentFixture {
	t.Helper()

	f := &agentFixture{
		page:   newFakePage(),
		disp:   bus.NewDispatcher(),
		events: make(chan events.Event, 64),
		done:   make(chan struct{}),
	}
	t.Cleanup(f.disp.Close)

	err := f.disp.Register(protocol.ContextWorker, func(env protocol.Envelope) {
		if env.Type != protocol.TypeCaptureEvent {
			return
		}
		var p protocol.CaptureEvent
		if env.Decode(&p) == nil {
			f.events <- p.Event
		}
	})
	if err != nil {
		t.Fatalf("register worker sink: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)

	a := New(testContextID, f.page, f.disp, testConfig())
	go func() {
		a.Run(ctx)
		close(f.done)
	}()

	waitFor(t, func() bool { return f.disp.Registered(protocol.AgentContext(testContextID)) })
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func (f *agentFixture) beginCapture(t *testing.T, sessionID string, startMs int64) {
	t.Helper()
	env := protocol.MustNew(protocol.TypeBeginCapture, sessionID, protocol.BeginCapture{StartTimeMs: startMs})
	env.From = protocol.ContextCoordinator
	f.disp.Send(protocol.AgentContext(testContextID), env)
	time.Sleep(30 * time.Millisecond)
}

func (f *agentFixture) nextEvent(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == kind {
				return ev
			}
			// Position samples interleave with everything else; skip others.
		case <-deadline:
			t.Fatalf("no %s event arrived", kind)
		}
	}
}

func (f *agentFixture) expectNoEvent(t *testing.T, kind events.Kind, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-f.events:
			if ev.Kind == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestAgentCountdownHandshake(t *testing.T) {
	f := startAgent(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := protocol.Envelope{Type: protocol.TypePrepareCountdown, SessionID: "sess-1"}
	res, err := f.disp.Call(ctx, protocol.ContextCoordinator, protocol.AgentContext(testContextID), req)
	if err != nil {
		t.Fatalf("countdown call: %v", err)
	}

	var done protocol.CountdownDone
	if err := res.Decode(&done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.Width != 1000 || done.Height != 800 || done.DevicePixelRatio != 2 {
		t.Errorf("geometry %+v", done)
	}

	shown := f.page.shownCountdowns()
	if len(shown) != 3 || shown[0] != 3 || shown[1] != 2 || shown[2] != 1 {
		t.Errorf("countdown sequence %v, want [3 2 1]", shown)
	}
}

func TestAgentClickEmission(t *testing.T) {
	f := startAgent(t)
	start := time.Now()
	f.beginCapture(t, "sess-1", start.UnixMilli())

	downAt := start.Add(100 * time.Millisecond)
	target := ElementInfo{ID: "btn", Kind: ElementOther, Rect: events.Rect{X: 5, Y: 5, Width: 30, Height: 10}}
	f.page.firePointer(PointerEvent{Down: true, X: 10, Y: 20, Target: target, Time: downAt})
	f.page.firePointer(PointerEvent{Down: false, X: 10, Y: 20, Target: target, Time: downAt.Add(80 * time.Millisecond)})

	ev := f.nextEvent(t, events.KindClick)
	if ev.X != 20 || ev.Y != 40 {
		t.Errorf("click at (%v,%v), want device-scaled (20,40)", ev.X, ev.Y)
	}
	if ev.Time != 100 {
		t.Errorf("click time %d, want 100 (the down moment)", ev.Time)
	}
	if ev.TargetRect == nil || ev.TargetRect.Width != 60 {
		t.Errorf("target rect %+v, want device-scaled", ev.TargetRect)
	}
}

func TestAgentDragEmission(t *testing.T) {
	f := startAgent(t)
	start := time.Now()
	f.beginCapture(t, "sess-1", start.UnixMilli())

	downAt := start
	f.page.firePointer(PointerEvent{Down: true, X: 0, Y: 0, Time: downAt})
	f.page.firePointer(PointerEvent{Down: false, X: 50, Y: 0, Time: downAt.Add(700 * time.Millisecond)})

	ev := f.nextEvent(t, events.KindDrag)
	if ev.Time != 0 || ev.EndTime != 700 {
		t.Errorf("drag span %d..%d, want 0..700", ev.Time, ev.EndTime)
	}
	last := ev.Path[len(ev.Path)-1]
	if last.X != 100 {
		t.Errorf("drag end x %v, want device-scaled 100", last.X)
	}
}

func TestAgentPasswordClicksDropped(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())

	pw := ElementInfo{ID: "pw", Kind: ElementInput, InputType: "password"}
	now := time.Now()
	f.page.firePointer(PointerEvent{Down: true, X: 10, Y: 10, Target: pw, Time: now})
	f.page.firePointer(PointerEvent{Down: false, X: 10, Y: 10, Target: pw, Time: now.Add(50 * time.Millisecond)})

	f.expectNoEvent(t, events.KindClick, 100*time.Millisecond)
}

func TestAgentEmissionGatedByPageState(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())
	f.page.setActive(false, true)

	f.page.fireScroll(ScrollEvent{X: 1, Y: 2, DeltaY: -100, Time: time.Now()})
	f.expectNoEvent(t, events.KindScroll, 100*time.Millisecond)

	// Regaining focus resumes emission; nothing was buffered meanwhile.
	f.page.setActive(true, true)
	f.page.fireScroll(ScrollEvent{X: 1, Y: 2, DeltaY: -100, Time: time.Now()})
	ev := f.nextEvent(t, events.KindScroll)
	if ev.DeltaY != -200 {
		t.Errorf("scroll deltaY %v, want device-scaled -200", ev.DeltaY)
	}
}

func TestAgentNotCapturingBeforeBegin(t *testing.T) {
	f := startAgent(t)

	now := time.Now()
	f.page.firePointer(PointerEvent{Down: true, X: 1, Y: 1, Time: now})
	f.page.firePointer(PointerEvent{Down: false, X: 1, Y: 1, Time: now.Add(50 * time.Millisecond)})
	f.expectNoEvent(t, events.KindClick, 100*time.Millisecond)
}

func TestAgentTypingSessionClosesOnFocusChange(t *testing.T) {
	f := startAgent(t)
	start := time.Now()
	f.beginCapture(t, "sess-1", start.UnixMilli())

	fieldA := ElementInfo{ID: "a", Kind: ElementInput, InputType: "text", Rect: events.Rect{X: 1, Y: 1, Width: 100, Height: 20}}
	fieldB := ElementInfo{ID: "b", Kind: ElementInput, InputType: "text"}

	f.page.setFocusedElement(fieldA, true)
	f.page.fireKey(KeyEvent{Key: "h", Target: fieldA, Time: time.Now()})

	// The typing poll opens a session for the element the keystroke hit.
	time.Sleep(50 * time.Millisecond)

	// Focus moves elsewhere: the session must close and emit.
	f.page.setFocusedElement(fieldB, true)

	ev := f.nextEvent(t, events.KindTyping)
	if ev.TargetRect == nil || ev.TargetRect.Width != 200 {
		t.Errorf("typing rect %+v, want field A device-scaled", ev.TargetRect)
	}
	if ev.EndTime < ev.Time {
		t.Errorf("typing span %d..%d", ev.Time, ev.EndTime)
	}

	// No typing resumed on field B, so no second session may open from the
	// stale keystroke.
	f.expectNoEvent(t, events.KindTyping, 100*time.Millisecond)
}

func TestAgentPlainKeysNotCapturedWhileTyping(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())

	field := ElementInfo{ID: "a", Kind: ElementInput, InputType: "text"}
	f.page.fireKey(KeyEvent{Key: "x", Target: field, Time: time.Now()})
	f.expectNoEvent(t, events.KindKey, 100*time.Millisecond)

	f.page.fireKey(KeyEvent{Key: "Enter", Target: field, Time: time.Now()})
	ev := f.nextEvent(t, events.KindKey)
	if ev.Key != "Enter" {
		t.Errorf("captured key %q", ev.Key)
	}
}

func TestAgentNavigationClosesTypingAndEmits(t *testing.T) {
	f := startAgent(t)
	start := time.Now()
	f.beginCapture(t, "sess-1", start.UnixMilli())

	field := ElementInfo{ID: "a", Kind: ElementInput, InputType: "text"}
	f.page.setFocusedElement(field, true)
	f.page.fireKey(KeyEvent{Key: "h", Target: field, Time: time.Now()})
	time.Sleep(50 * time.Millisecond)

	f.page.fireNavigation(NavigationEvent{URL: "https://example.com/next", Time: time.Now()})

	typing := f.nextEvent(t, events.KindTyping)
	if typing.TargetRect == nil {
		t.Error("typing event missing rect")
	}
	nav := f.nextEvent(t, events.KindNavigation)
	if nav.URL != "https://example.com/next" {
		t.Errorf("navigation url %q", nav.URL)
	}
}

func TestAgentEndCaptureAcksAndStops(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	end := protocol.MustNew(protocol.TypeEndCapture, "sess-1", protocol.EndCapture{})
	res, err := f.disp.Call(ctx, protocol.ContextCoordinator, protocol.AgentContext(testContextID), end)
	if err != nil {
		t.Fatalf("end capture call: %v", err)
	}
	if res.Type != protocol.TypeAck {
		t.Errorf("reply type %s", res.Type)
	}

	now := time.Now()
	f.page.firePointer(PointerEvent{Down: true, X: 1, Y: 1, Time: now})
	f.page.firePointer(PointerEvent{Down: false, X: 1, Y: 1, Time: now.Add(30 * time.Millisecond)})
	f.expectNoEvent(t, events.KindClick, 100*time.Millisecond)
}

func TestAgentIgnoresStaleEndCapture(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())

	stale := protocol.MustNew(protocol.TypeEndCapture, "old-session", protocol.EndCapture{})
	stale.From = protocol.ContextCoordinator
	f.disp.Send(protocol.AgentContext(testContextID), stale)
	time.Sleep(30 * time.Millisecond)

	now := time.Now()
	f.page.firePointer(PointerEvent{Down: true, X: 1, Y: 1, Time: now})
	f.page.firePointer(PointerEvent{Down: false, X: 1, Y: 1, Time: now.Add(30 * time.Millisecond)})
	if ev := f.nextEvent(t, events.KindClick); ev.Kind != events.KindClick {
		t.Error("capture stopped by a stale instruction")
	}
}

func TestAgentStopsWhenSuperseded(t *testing.T) {
	f := startAgent(t)

	f.page.fireCleanup("some-newer-instance")

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop on a successor's cleanup broadcast")
	}
	if f.disp.Registered(protocol.AgentContext(testContextID)) {
		t.Error("agent left its bus registration behind")
	}
}

func TestAgentMousePositionSampling(t *testing.T) {
	f := startAgent(t)
	f.beginCapture(t, "sess-1", time.Now().UnixMilli())

	f.page.setPointer(30, 40)

	ev := f.nextEvent(t, events.KindPosition)
	if ev.X != 60 || ev.Y != 80 {
		t.Errorf("position (%v,%v), want device-scaled (60,80)", ev.X, ev.Y)
	}
}
