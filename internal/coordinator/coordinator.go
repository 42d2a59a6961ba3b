// Package coordinator implements the process-wide session authority: it owns
// the single RecordingSession, drives the start/stop protocol across the
// capture agent and media worker contexts, and arbitrates which context is
// being recorded. Every operation is serialized end-to-end: an instruction
// is processed to completion, including its awaited sub-steps, before the
// next one is handled, so the session value needs no further locking.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/project"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

// WorkerHost provisions and destroys the media worker's execution context.
type WorkerHost interface {
	Provision() error
	Teardown()
	Provisioned() bool
}

// CaptureHandleResolver resolves the mode-specific capture handle for a
// tab/window target (e.g. the tab's capture-stream token). Host capability.
type CaptureHandleResolver interface {
	Resolve(ctx context.Context, targetContextID string, mode session.Mode) (string, error)
}

// Config bounds the protocol's awaited steps.
type Config struct {
	// CountdownTimeout bounds the countdown/geometry handshake.
	CountdownTimeout time.Duration
	// ReadyInitialDelay is the first Ping wait; each retry doubles it.
	ReadyInitialDelay time.Duration
	// ReadyMaxAttempts bounds the readiness handshake.
	ReadyMaxAttempts int
	// FinalizeTimeout bounds the worker's stop-and-persist reply.
	FinalizeTimeout time.Duration
	// DesktopViewportW/H are used in desktop mode, where no page supplies
	// live geometry.
	DesktopViewportW int
	DesktopViewportH int
}

// DefaultConfig returns production timeouts.
func DefaultConfig() Config {
	return Config{
		CountdownTimeout:  5 * time.Second,
		ReadyInitialDelay: 100 * time.Millisecond,
		ReadyMaxAttempts:  6,
		FinalizeTimeout:   15 * time.Second,
		DesktopViewportW:  1920,
		DesktopViewportH:  1080,
	}
}

// Coordinator is the session state machine.
type Coordinator struct {
	disp     *bus.Dispatcher
	store    *session.Store
	host     WorkerHost
	resolver CaptureHandleResolver
	cfg      Config

	mu      sync.Mutex
	state   session.State
	current *session.Recording

	prober PermissionProber
	opener HelperOpener
}

// New builds a coordinator and rehydrates any persisted session so state
// queries stay accurate across a restart.
func New(d *bus.Dispatcher, store *session.Store, host WorkerHost, resolver CaptureHandleResolver, cfg Config) (*Coordinator, error) {
	c := &Coordinator{
		disp:     d,
		store:    store,
		host:     host,
		resolver: resolver,
		cfg:      cfg,
		state:    session.StateIdle,
	}

	rec, ok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("rehydrate session: %w", err)
	}
	if ok && rec.Recording {
		c.current = &rec
		c.state = session.StateActive
		logging.Coordinator("Rehydrated active session %s (started %s)", rec.SessionID, rec.StartTime)
	}
	return c, nil
}

// SetPermissionHelper installs the platform's permission probe and helper
// opener. Without one, permission is assumed and the capture attempt itself
// reports denial.
func (c *Coordinator) SetPermissionHelper(prober PermissionProber, opener HelperOpener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prober = prober
	c.opener = opener
}

// State returns the coordinator's lifecycle state.
func (c *Coordinator) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartSession validates and executes the start protocol, returning the new
// session id.
func (c *Coordinator) StartSession(ctx context.Context, req protocol.StartRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		logging.Coordinator("Start rejected: session %s already active", c.current.SessionID)
		return "", session.ErrSessionConflict
	}

	c.state = session.StateStarting
	sessionID := uuid.NewString()
	logging.Coordinator("Starting session %s: mode=%s target=%s", sessionID, req.Mode, req.TargetContextID)

	var err error
	defer func() {
		if err != nil {
			c.failStartLocked(sessionID, err)
		}
	}()

	// 0. Screen-capture permission. The helper opens without blocking on the
	// user; the start fails now and the UI retries once permission is granted.
	if c.prober != nil && !EnsureScreenPermission(ctx, c.prober, c.opener) {
		err = fmt.Errorf("%w: screen capture permission not granted", session.ErrStreamUnavailable)
		return "", err
	}

	// 1. Provision the media worker context. Recreating an existing context
	// avoids inheriting stale state from a prior session.
	if c.host.Provisioned() {
		c.host.Teardown()
	}
	if err = c.host.Provision(); err != nil {
		err = fmt.Errorf("provision worker: %w", err)
		return "", err
	}

	// 2. Resolve the capture handle for tab/window targets.
	captureHandle := ""
	if req.Mode != session.ModeDesktop {
		captureHandle, err = c.resolver.Resolve(ctx, req.TargetContextID, req.Mode)
		if err != nil {
			err = fmt.Errorf("%w: resolve capture handle: %v", session.ErrStreamUnavailable, err)
			return "", err
		}
	}

	// 3. Readiness handshake: provisioning is asynchronous and racy, so the
	// worker is pinged with exponential fallback before instructions go out.
	if err = c.awaitWorkerReady(ctx, sessionID); err != nil {
		return "", err
	}

	// 4. Countdown handshake. The reply carries the authoritative viewport
	// geometry; display geometry is trusted only from the live page.
	vpW, vpH := c.cfg.DesktopViewportW, c.cfg.DesktopViewportH
	if req.Mode != session.ModeDesktop {
		var done protocol.CountdownDone
		done, err = c.runCountdown(ctx, sessionID, req.TargetContextID)
		if err != nil {
			return "", err
		}
		dpr := done.DevicePixelRatio
		if dpr <= 0 {
			dpr = 1
		}
		vpW = int(float64(done.Width) * dpr)
		vpH = int(float64(done.Height) * dpr)
	}

	cfg := session.Config{
		SessionID:     sessionID,
		Mode:          req.Mode,
		AudioEnabled:  req.Devices.AudioEnabled,
		CameraEnabled: req.Devices.CameraEnabled,
		MicrophoneID:  req.Devices.MicrophoneID,
		CameraID:      req.Devices.CameraID,
		ViewportW:     vpW,
		ViewportH:     vpH,
		CaptureHandle: captureHandle,
	}

	// 5. One synchronized start time for both contexts so event timestamps
	// are comparable. The config reaches the worker before the agent is told
	// to start eventing.
	startTime := time.Now()
	begin := protocol.BeginCapture{StartTimeMs: startTime.UnixMilli(), Config: cfg}

	if err = c.beginWorkerCapture(ctx, sessionID, begin); err != nil {
		return "", err
	}
	if req.TargetContextID != "" {
		env := protocol.MustNew(protocol.TypeBeginCapture, sessionID, begin)
		env.From = protocol.ContextCoordinator
		c.disp.Send(protocol.AgentContext(req.TargetContextID), env)
	}

	rec := session.Recording{
		SessionID:       sessionID,
		Recording:       true,
		TargetContextID: req.TargetContextID,
		Mode:            req.Mode,
		StartTime:       startTime,
	}
	if serr := c.store.Save(rec); serr != nil {
		// The session is live; persistence failure only costs restart
		// rehydration.
		logging.CoordinatorError("Session persist failed: %v", serr)
	}

	c.current = &rec
	c.state = session.StateActive
	logging.Coordinator("Session %s active (viewport %dx%d)", sessionID, vpW, vpH)
	return sessionID, nil
}

// failStartLocked unwinds a failed start: no partial session, no orphaned
// media tracks, state back to idle.
func (c *Coordinator) failStartLocked(sessionID string, cause error) {
	logging.CoordinatorError("Start of %s failed: %v", sessionID, cause)
	c.state = session.StateFailed
	c.host.Teardown()
	if err := c.store.Clear(); err != nil {
		logging.CoordinatorError("Session clear failed: %v", err)
	}
	c.current = nil
	c.state = session.StateIdle
}

// awaitWorkerReady pings the worker with exponential fallback.
func (c *Coordinator) awaitWorkerReady(ctx context.Context, sessionID string) error {
	delay := c.cfg.ReadyInitialDelay
	for attempt := 1; attempt <= c.cfg.ReadyMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, delay)
		ping := protocol.Envelope{Type: protocol.TypePing, SessionID: sessionID}
		res, err := c.disp.Call(callCtx, protocol.ContextCoordinator, protocol.ContextWorker, ping)
		cancel()
		if err == nil && res.Type == protocol.TypePong {
			logging.CoordinatorDebug("Worker ready after %d attempt(s)", attempt)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		delay *= 2
	}
	return session.ErrWorkerUnready
}

// runCountdown asks the agent for the 3-2-1 overlay and the live geometry.
func (c *Coordinator) runCountdown(ctx context.Context, sessionID, targetContextID string) (protocol.CountdownDone, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CountdownTimeout)
	defer cancel()

	req := protocol.Envelope{Type: protocol.TypePrepareCountdown, SessionID: sessionID}
	res, err := c.disp.Call(callCtx, protocol.ContextCoordinator, protocol.AgentContext(targetContextID), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return protocol.CountdownDone{}, session.ErrCountdownTimeout
		}
		return protocol.CountdownDone{}, fmt.Errorf("%w: %v", session.ErrCountdownTimeout, err)
	}
	var done protocol.CountdownDone
	if err := res.Decode(&done); err != nil {
		return protocol.CountdownDone{}, err
	}
	return done, nil
}

// beginWorkerCapture delivers the config and surfaces the worker's
// acquisition result (a denied primary stream fails the start).
func (c *Coordinator) beginWorkerCapture(ctx context.Context, sessionID string, begin protocol.BeginCapture) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
	defer cancel()

	env := protocol.MustNew(protocol.TypeBeginCapture, sessionID, begin)
	res, err := c.disp.Call(callCtx, protocol.ContextCoordinator, protocol.ContextWorker, env)
	if err != nil {
		return fmt.Errorf("begin capture: %w", err)
	}
	var ack protocol.StartResult
	if err := res.Decode(&ack); err != nil {
		return err
	}
	if ack.ErrorCode != "" {
		if sentinel := session.FromCode(ack.ErrorCode); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, ack.Reason)
		}
		return fmt.Errorf("begin capture: %s", ack.Reason)
	}
	return nil
}

// StopSession finalizes the active session. Stopping with no active session is
// an idempotent success with zero duration. A failed finalize still clears the
// active flag (recording must never appear stuck after a stop attempt), with
// the persistence error logged distinctly from the stop acknowledgment.
func (c *Coordinator) StopSession(ctx context.Context, sessionID string) (protocol.StopResult, error) {
	return c.endSession(ctx, sessionID, false)
}

// CancelSession is StopSession with buffered data discarded instead of persisted.
func (c *Coordinator) CancelSession(ctx context.Context, sessionID string) (protocol.StopResult, error) {
	return c.endSession(ctx, sessionID, true)
}

func (c *Coordinator) endSession(ctx context.Context, sessionID string, discard bool) (protocol.StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return protocol.StopResult{DurationMs: 0}, nil
	}
	if sessionID != "" && sessionID != c.current.SessionID {
		return protocol.StopResult{}, session.ErrSessionMismatch
	}

	active := *c.current
	c.state = session.StateStopping
	logging.Coordinator("Stopping session %s (discard=%v)", active.SessionID, discard)

	result := protocol.StopResult{}

	// 1. Finalize the worker and await its result.
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
	env := protocol.MustNew(protocol.TypeEndCapture, active.SessionID, protocol.EndCapture{Discard: discard})
	res, err := c.disp.Call(callCtx, protocol.ContextCoordinator, protocol.ContextWorker, env)
	cancel()
	if err != nil {
		logging.CoordinatorError("Finalize of %s failed: %v", active.SessionID, err)
		result.ErrorCode = session.Code(session.ErrNoActiveRecorder)
		result.Reason = err.Error()
	} else {
		var fin protocol.FinalizeResult
		if derr := res.Decode(&fin); derr != nil {
			logging.CoordinatorError("Finalize result decode: %v", derr)
		} else {
			result.DurationMs = fin.DurationMs
			if fin.ErrorCode != "" {
				// Persistence failure is logged apart from the stop ack; the
				// session still ends.
				logging.CoordinatorError("Finalize of %s reported %s: %s",
					active.SessionID, fin.ErrorCode, fin.Reason)
				result.ErrorCode = fin.ErrorCode
				result.Reason = fin.Reason
			}
		}
	}

	// 2. Stop the agent, best-effort: the page may already be gone.
	if active.TargetContextID != "" {
		stop := protocol.MustNew(protocol.TypeEndCapture, active.SessionID, protocol.EndCapture{})
		stop.From = protocol.ContextCoordinator
		c.disp.Send(protocol.AgentContext(active.TargetContextID), stop)
	}

	// 3. Tear down the worker context and clear durable state.
	c.host.Teardown()
	if cerr := c.store.Clear(); cerr != nil {
		logging.CoordinatorError("Session clear failed: %v", cerr)
	}
	c.current = nil
	c.state = session.StateIdle

	if !discard && result.ErrorCode == "" {
		result.EditorURL = project.EditorURL(active.SessionID)
	}
	logging.Coordinator("Session %s ended: duration=%dms", active.SessionID, result.DurationMs)
	return result, nil
}

// QueryState reports recording state scoped to the caller: a page context
// other than the recorded target always sees isRecording=false, so unrelated
// pages never show an active-recording indicator. Non-page callers (the UI's
// own contexts) see the true state.
func (c *Coordinator) QueryState(callerContextID string) protocol.StateReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.Recording {
		return protocol.StateReport{IsRecording: false}
	}
	if isPageCaller(callerContextID) && callerContextID != c.current.TargetContextID {
		return protocol.StateReport{IsRecording: false}
	}
	return protocol.StateReport{
		IsRecording: true,
		StartTimeMs: c.current.StartTime.UnixMilli(),
	}
}

// isPageCaller distinguishes page contexts from the UI's own surfaces, which
// register on the bus under a "ui:" name.
func isPageCaller(caller string) bool {
	return caller != "" && !strings.HasPrefix(caller, "ui:")
}
