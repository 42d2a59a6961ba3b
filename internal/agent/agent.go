package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/protocol"
)

// Config holds the agent's scheduling intervals. Tests compress them; the
// defaults are the production cadence.
type Config struct {
	MousePollInterval  time.Duration
	TypingPollInterval time.Duration
	CountdownStep      time.Duration
	CountdownFrom      int
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		MousePollInterval:  100 * time.Millisecond,
		TypingPollInterval: 400 * time.Millisecond,
		CountdownStep:      time.Second,
		CountdownFrom:      3,
	}
}

// typingState tracks an open typing session.
type typingState struct {
	target  ElementInfo
	rect    events.Rect
	startAt time.Time
}

// Agent is one capture-agent instance. All mutable state below the config
// fields is confined to the Run goroutine.
type Agent struct {
	id        string
	contextID string
	page      Page
	disp      *bus.Dispatcher
	cfg       Config

	inbox     chan protocol.Envelope
	pointerCh chan PointerEvent
	keyCh     chan KeyEvent
	scrollCh  chan ScrollEvent
	navCh     chan NavigationEvent
	cleanupCh chan string

	// Loop-confined state.
	capturing        bool
	sessionID        string
	startMs          int64
	down             *downState
	lastTypingKey    time.Time
	lastTypingTarget ElementInfo
	typing           *typingState

	countdownLeft  int
	countdownReply *protocol.Envelope
	countdownTick  *time.Ticker
}

// New constructs an agent for the given page context. Call Run to activate it.
func New(contextID string, page Page, dispatcher *bus.Dispatcher, cfg Config) *Agent {
	if cfg.MousePollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Agent{
		id:        uuid.NewString(),
		contextID: contextID,
		page:      page,
		disp:      dispatcher,
		cfg:       cfg,
		inbox:     make(chan protocol.Envelope, 64),
		pointerCh: make(chan PointerEvent, 64),
		keyCh:     make(chan KeyEvent, 64),
		scrollCh:  make(chan ScrollEvent, 64),
		navCh:     make(chan NavigationEvent, 16),
		cleanupCh: make(chan string, 4),
	}
}

// ID returns the instance id used for cleanup reconciliation.
func (a *Agent) ID() string { return a.id }

// Run activates the agent: it reconciles prior instances, subscribes to the
// page's input capabilities, registers on the bus, and processes everything on
// this goroutine until ctx is cancelled or a successor broadcasts cleanup.
func (a *Agent) Run(ctx context.Context) {
	busName := protocol.AgentContext(a.contextID)
	if err := a.disp.Register(busName, func(env protocol.Envelope) {
		select {
		case a.inbox <- env:
		default:
			// At-most-once: an overloaded agent drops instructions.
		}
	}); err != nil {
		logging.Get(logging.CategoryAgent).Error("bus registration failed: %v", err)
		return
	}

	subs := []Unsubscribe{
		a.page.SubscribeCleanup(func(id string) {
			select {
			case a.cleanupCh <- id:
			default:
			}
		}),
		a.page.SubscribePointer(func(ev PointerEvent) { nonBlocking(a.pointerCh, ev) }),
		a.page.SubscribeKeys(func(ev KeyEvent) { nonBlocking(a.keyCh, ev) }),
		a.page.SubscribeScroll(func(ev ScrollEvent) { nonBlocking(a.scrollCh, ev) }),
		a.page.SubscribeNavigation(func(ev NavigationEvent) { nonBlocking(a.navCh, ev) }),
	}
	defer func() {
		for _, unsub := range subs {
			unsub()
		}
		a.disp.Unregister(busName)
		if a.countdownTick != nil {
			a.countdownTick.Stop()
		}
	}()

	// Any older instance still listening in this page stops now.
	a.page.BroadcastCleanup(a.id)
	logging.Agent("Agent %s active in context %s", a.id, a.contextID)

	mouseTick := time.NewTicker(a.cfg.MousePollInterval)
	defer mouseTick.Stop()
	typingTick := time.NewTicker(a.cfg.TypingPollInterval)
	defer typingTick.Stop()

	for {
		var countdownC <-chan time.Time
		if a.countdownTick != nil {
			countdownC = a.countdownTick.C
		}

		select {
		case <-ctx.Done():
			return
		case id := <-a.cleanupCh:
			if id != a.id {
				logging.Agent("Agent %s superseded by %s, stopping", a.id, id)
				return
			}
		case env := <-a.inbox:
			a.handleEnvelope(env)
		case <-countdownC:
			a.stepCountdown()
		case <-mouseTick.C:
			a.sampleMouse(time.Now())
		case <-typingTick.C:
			a.pollTyping(time.Now())
		case ev := <-a.pointerCh:
			a.handlePointer(ev)
		case ev := <-a.keyCh:
			a.handleKey(ev)
		case ev := <-a.scrollCh:
			a.handleScroll(ev)
		case ev := <-a.navCh:
			a.handleNavigation(ev)
		}
	}
}

func nonBlocking[T any](ch chan T, ev T) {
	select {
	case ch <- ev:
	default:
	}
}

func (a *Agent) dpr() float64 {
	d := a.page.Viewport().DevicePixelRatio
	if d <= 0 {
		return 1
	}
	return d
}

// pageActive gates every emission: no focus or no visibility means the
// interaction belongs to a background tab and is dropped.
func (a *Agent) pageActive() bool {
	return a.page.Focused() && a.page.Visible()
}

func (a *Agent) emit(ev events.Event) {
	if !a.capturing || !a.pageActive() {
		return
	}
	env := protocol.MustNew(protocol.TypeCaptureEvent, a.sessionID, protocol.CaptureEvent{Event: ev})
	env.From = protocol.AgentContext(a.contextID)
	a.disp.Send(protocol.ContextWorker, env)
}

func (a *Agent) rel(t time.Time) int64 {
	return t.UnixMilli() - a.startMs
}

func scaleRect(r events.Rect, dpr float64) events.Rect {
	return events.Rect{X: r.X * dpr, Y: r.Y * dpr, Width: r.Width * dpr, Height: r.Height * dpr}
}

// ---------------------------------------------------------------------------
// Instruction handling
// ---------------------------------------------------------------------------

func (a *Agent) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePrepareCountdown:
		a.beginCountdown(env)
	case protocol.TypeBeginCapture:
		var p protocol.BeginCapture
		if err := env.Decode(&p); err != nil {
			logging.Get(logging.CategoryAgent).Error("BeginCapture decode: %v", err)
			return
		}
		a.sessionID = env.SessionID
		a.startMs = p.StartTimeMs
		a.capturing = true
		a.down = nil
		a.typing = nil
		a.lastTypingKey = time.Time{}
		logging.Agent("Capture started: session=%s", a.sessionID)
	case protocol.TypeEndCapture:
		if env.SessionID != a.sessionID {
			// Stale instruction from a superseded session.
			return
		}
		a.closeTypingSession(time.Now())
		a.capturing = false
		logging.Agent("Capture stopped: session=%s", a.sessionID)
		if env.CorrelationID != "" && env.From != "" {
			ack := protocol.Envelope{Type: protocol.TypeAck, SessionID: env.SessionID,
				CorrelationID: env.CorrelationID, From: protocol.AgentContext(a.contextID)}
			a.disp.Send(env.From, ack)
		}
	}
}

// beginCountdown starts the 3-2-1 overlay. A countdown already in progress is
// left alone; the eventual reply answers the original request.
func (a *Agent) beginCountdown(env protocol.Envelope) {
	if a.countdownTick != nil {
		return
	}
	a.countdownLeft = a.cfg.CountdownFrom
	a.countdownReply = &env
	if err := a.page.ShowCountdown(a.countdownLeft); err != nil {
		logging.Get(logging.CategoryAgent).Warn("countdown overlay: %v", err)
	}
	a.countdownTick = time.NewTicker(a.cfg.CountdownStep)
}

func (a *Agent) stepCountdown() {
	a.countdownLeft--
	if a.countdownLeft > 0 {
		if err := a.page.ShowCountdown(a.countdownLeft); err != nil {
			logging.Get(logging.CategoryAgent).Warn("countdown overlay: %v", err)
		}
		return
	}

	a.countdownTick.Stop()
	a.countdownTick = nil
	if err := a.page.HideCountdown(); err != nil {
		logging.Get(logging.CategoryAgent).Warn("countdown overlay removal: %v", err)
	}

	req := a.countdownReply
	a.countdownReply = nil
	if req == nil {
		return
	}
	vp := a.page.Viewport()
	reply := protocol.MustNew(protocol.TypeCountdownDone, req.SessionID, protocol.CountdownDone{
		Width:            vp.Width,
		Height:           vp.Height,
		DevicePixelRatio: vp.DevicePixelRatio,
	})
	reply.CorrelationID = req.CorrelationID
	reply.From = protocol.AgentContext(a.contextID)
	a.disp.Send(req.From, reply)
	logging.Agent("Countdown complete: %dx%d @%.2f", vp.Width, vp.Height, vp.DevicePixelRatio)
}

// ---------------------------------------------------------------------------
// Input classification
// ---------------------------------------------------------------------------

func (a *Agent) handlePointer(ev PointerEvent) {
	if !a.capturing {
		return
	}
	dpr := a.dpr()

	if ev.Down {
		// Password fields are excluded from click capture entirely.
		if isPasswordTarget(ev.Target) {
			return
		}
		a.down = &downState{
			x:          ev.X * dpr,
			y:          ev.Y * dpr,
			at:         ev.Time,
			target:     ev.Target,
			targetRect: scaleRect(ev.Target.Rect, dpr),
			path: []events.Point{{
				X: ev.X * dpr, Y: ev.Y * dpr, T: a.rel(ev.Time),
			}},
		}
		return
	}

	if a.down == nil {
		return
	}
	out := classifyPointerUp(a.down, ev.X*dpr, ev.Y*dpr, ev.Time, a.startMs)
	a.down = nil
	a.emit(out)
}

// sampleMouse emits the latest pointer position and extends any in-progress
// drag path, so path resolution is bounded by the poll interval regardless of
// native move-event frequency.
func (a *Agent) sampleMouse(now time.Time) {
	if !a.capturing || !a.pageActive() {
		return
	}
	x, y, ok := a.page.PointerPosition()
	if !ok {
		return
	}
	dpr := a.dpr()
	sx, sy := x*dpr, y*dpr

	a.emit(events.Event{Kind: events.KindPosition, Time: a.rel(now), X: sx, Y: sy})

	if a.down != nil {
		a.down.path = append(a.down.path, events.Point{X: sx, Y: sy, T: a.rel(now)})
	}
}

func (a *Agent) handleKey(ev KeyEvent) {
	if !a.capturing {
		return
	}
	if modifierKeys[ev.Key] {
		return
	}

	editable := isEditable(ev.Target)
	if editable && !isPasswordTarget(ev.Target) {
		a.lastTypingKey = ev.Time
		a.lastTypingTarget = ev.Target
	}

	if !shouldCaptureKey(ev, editable) {
		return
	}
	a.emit(events.Event{
		Kind:      events.KindKey,
		Time:      a.rel(ev.Time),
		Key:       ev.Key,
		Modifiers: ev.Modifiers,
	})
}

func (a *Agent) handleScroll(ev ScrollEvent) {
	if !a.capturing {
		return
	}
	dpr := a.dpr()
	a.emit(events.Event{
		Kind:   events.KindScroll,
		Time:   a.rel(ev.Time),
		X:      ev.X * dpr,
		Y:      ev.Y * dpr,
		DeltaX: ev.DeltaX * dpr,
		DeltaY: ev.DeltaY * dpr,
	})
}

func (a *Agent) handleNavigation(ev NavigationEvent) {
	if !a.capturing {
		return
	}
	// Element identity does not survive a navigation; any in-flight typing
	// session ends here.
	a.closeTypingSession(ev.Time)
	a.emit(events.Event{Kind: events.KindNavigation, Time: a.rel(ev.Time), URL: ev.URL})
}

// pollTyping opens and closes typing sessions. A session starts when typing is
// active with none open; it ends when typing goes quiet or focus moves off the
// session's original target.
func (a *Agent) pollTyping(now time.Time) {
	if !a.capturing {
		return
	}
	active := !a.lastTypingKey.IsZero() && now.Sub(a.lastTypingKey) <= TypingIdleWindow
	focused, ok := a.page.FocusedElement()

	if a.typing == nil {
		// A session opens only for the element the typing actually happened
		// on; stale activity from a previously focused element never seeds a
		// session for its successor.
		if active && ok && focused.ID == a.lastTypingTarget.ID &&
			isEditable(focused) && !isPasswordTarget(focused) {
			a.typing = &typingState{
				target:  focused,
				rect:    scaleRect(focused.Rect, a.dpr()),
				startAt: a.lastTypingKey,
			}
		}
		return
	}

	if !active || !ok || focused.ID != a.typing.target.ID {
		a.closeTypingSession(now)
	}
}

// closeTypingSession emits the pending typing event, if any, ending at endAt.
func (a *Agent) closeTypingSession(endAt time.Time) {
	if a.typing == nil {
		return
	}
	rect := a.typing.rect
	a.emit(events.Event{
		Kind:       events.KindTyping,
		Time:       a.rel(a.typing.startAt),
		EndTime:    a.rel(endAt),
		TargetRect: &rect,
	})
	a.typing = nil
}
