package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/project"
	"github.com/jmikh/recordio/internal/session"
)

// Phase is the worker's lifecycle phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhaseStopping  Phase = "stopping"
)

// Outcome reports a completed finalize.
type Outcome struct {
	DurationMs int64
	SourceIDs  []string
	ProjectID  string
	Discarded  bool
}

// Worker turns a session.Config into persisted media assets. Exactly one
// Worker may exist per capture context; constructing a second one is a
// context-lifecycle bug in the coordinator, asserted by the hosting setup.
type Worker struct {
	device    Device
	assembler *project.Assembler
	chunkIvl  time.Duration

	mu        sync.Mutex
	phase     Phase
	sessionID string
	startMs   int64
	cfg       session.Config

	// tracks is the single owned collection; every acquired track lands here
	// and is stopped exactly once by releaseLocked, regardless of which
	// acquisition step failed.
	tracks   []Track
	released bool

	screenRec *Recorder
	cameraRec *Recorder
	mixer     Mixer

	buffer *events.Buffer
}

// NewWorker wires a worker to its platform device and blob store.
func NewWorker(device Device, library project.Library, chunkInterval time.Duration) *Worker {
	if chunkInterval <= 0 {
		chunkInterval = DefaultChunkInterval
	}
	return &Worker{
		device:    device,
		assembler: project.NewAssembler(library),
		chunkIvl:  chunkInterval,
		phase:     PhaseIdle,
	}
}

// Phase returns the worker's current phase.
func (w *Worker) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// OwnedTrackCount reports how many acquired tracks the worker still holds.
// Zero except while a session is active.
func (w *Worker) OwnedTrackCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return 0
	}
	return len(w.tracks)
}

// Begin acquires streams per the config and starts the recorders.
//
// Acquisition order is fixed: display first (fatal on failure), then
// microphone, then camera (both non-fatal; the recording degrades without
// them). On any fatal error every already-acquired track is released before
// returning.
func (w *Worker) Begin(ctx context.Context, cfg session.Config, startTimeMs int64) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != PhaseIdle {
		return fmt.Errorf("media worker: begin in phase %s", w.phase)
	}

	w.sessionID = cfg.SessionID
	w.startMs = startTimeMs
	w.cfg = cfg
	w.buffer = events.NewBuffer()
	w.released = false
	w.tracks = nil

	defer func() {
		if err != nil {
			w.releaseLocked()
		}
	}()

	// 1. Primary capture stream. Failure here aborts the start.
	display, derr := w.device.AcquireDisplay(ctx, DisplayRequest{
		Mode:          cfg.Mode,
		CaptureHandle: cfg.CaptureHandle,
		Width:         cfg.ViewportW,
		Height:        cfg.ViewportH,
	})
	if derr != nil {
		return fmt.Errorf("%w: %v", session.ErrStreamUnavailable, derr)
	}
	w.adopt(display.Tracks()...)

	// 2. Route system audio to local playback. The platform swallows the
	// captured track otherwise, leaving the operator deaf to their own system.
	systemAudio := display.AudioTrack()
	if systemAudio != nil {
		if rerr := w.device.Playback().Route(systemAudio); rerr != nil {
			logging.MediaWarn("System audio playback routing failed: %v", rerr)
		}
	}

	// 3. Microphone (non-fatal).
	var micAudio Track
	if cfg.AudioEnabled {
		mic, merr := w.device.AcquireMicrophone(ctx, cfg.MicrophoneID)
		if merr != nil {
			logging.MediaWarn("Microphone acquisition failed, continuing without: %v", merr)
		} else {
			w.adopt(mic.Tracks()...)
			micAudio = mic.AudioTrack()
		}
	}

	// 4. Camera (non-fatal).
	var cameraVideo Track
	if cfg.CameraEnabled {
		cam, cerr := w.device.AcquireCamera(ctx, cfg.CameraID)
		if cerr != nil {
			logging.MediaWarn("Camera acquisition failed, continuing without: %v", cerr)
		} else {
			w.adopt(cam.Tracks()...)
			cameraVideo = cam.VideoTrack()
		}
	}

	if err = w.buildRecordersLocked(display.VideoTrack(), systemAudio, micAudio, cameraVideo); err != nil {
		return err
	}

	if err = w.screenRec.Start(); err != nil {
		return err
	}
	if w.cameraRec != nil {
		if err = w.cameraRec.Start(); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = w.screenRec.Stop(stopCtx)
			return err
		}
	}

	w.phase = PhaseRecording
	logging.Media("Capture started: session=%s mode=%s camera=%v mic=%v",
		cfg.SessionID, cfg.Mode, cameraVideo != nil, micAudio != nil)
	return nil
}

// buildRecordersLocked applies the mixing policy.
//
// Dual-source mode (camera present): the camera recorder pairs camera video
// with microphone audio (the presenter asset); the screen recorder keeps only
// system audio. Mic audio is deliberately kept out of the screen asset so the
// voice is not doubled across two synchronized files.
//
// Single-source mode: one recorder; both audio sources present means they are
// mixed into one track first.
func (w *Worker) buildRecordersLocked(screenVideo, systemAudio, micAudio, cameraVideo Track) error {
	if cameraVideo != nil {
		w.screenRec = NewRecorder("screen", screenVideo, systemAudio, w.chunkIvl)
		w.cameraRec = NewRecorder("camera", cameraVideo, micAudio, w.chunkIvl)
		return nil
	}

	audio := systemAudio
	switch {
	case systemAudio != nil && micAudio != nil:
		mixer, err := w.device.NewMixer()
		if err != nil {
			return fmt.Errorf("create mixer: %w", err)
		}
		mixed, err := mixer.Mix(systemAudio, micAudio)
		if err != nil {
			_ = mixer.Close()
			return fmt.Errorf("mix audio: %w", err)
		}
		w.mixer = mixer
		w.adopt(mixed)
		audio = mixed
	case micAudio != nil:
		audio = micAudio
	}

	w.screenRec = NewRecorder("screen", screenVideo, audio, w.chunkIvl)
	w.cameraRec = nil
	return nil
}

// adopt registers tracks in the owned collection. Caller holds w.mu.
func (w *Worker) adopt(tracks ...Track) {
	for _, t := range tracks {
		if t != nil {
			w.tracks = append(w.tracks, t)
		}
	}
}

// AddEvent classifies an incoming semantic event into the session buffer.
// Events arriving outside the recording phase or for a foreign session belong
// to a prior or not-yet-started session and are silently dropped.
func (w *Worker) AddEvent(sessionID string, ev events.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase != PhaseRecording || sessionID != w.sessionID {
		return
	}
	w.buffer.Append(ev)
}

// EventCount reports the buffered event total for the active session.
func (w *Worker) EventCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buffer == nil {
		return 0
	}
	return w.buffer.Total()
}

// Finalize stops all active recorders, persists the assets and the event
// buffer (unless discard), assembles the project, and unconditionally releases
// every acquired resource.
func (w *Worker) Finalize(ctx context.Context, sessionID string, discard bool) (Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase == PhaseIdle || w.screenRec == nil {
		return Outcome{}, session.ErrNoActiveRecorder
	}
	if sessionID != w.sessionID {
		return Outcome{}, session.ErrSessionMismatch
	}

	w.phase = PhaseStopping
	defer func() {
		w.releaseLocked()
		w.phase = PhaseIdle
		w.screenRec = nil
		w.cameraRec = nil
	}()

	// Stop recorders in parallel; each stop awaits its recorder's stop event
	// so dimensions read afterwards are the final negotiated ones.
	g, gctx := errgroup.WithContext(ctx)
	recorders := []*Recorder{w.screenRec}
	if w.cameraRec != nil {
		recorders = append(recorders, w.cameraRec)
	}
	for _, rec := range recorders {
		rec := rec
		g.Go(func() error { return rec.Stop(gctx) })
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("stop recorders: %w", err)
	}

	durationMs := time.Now().UnixMilli() - w.startMs
	if durationMs < 0 {
		durationMs = 0
	}

	if discard {
		logging.Media("Capture discarded: session=%s", w.sessionID)
		return Outcome{DurationMs: durationMs, Discarded: true}, nil
	}

	outcome, err := w.persistLocked(durationMs)
	if err != nil {
		return Outcome{DurationMs: durationMs}, err
	}
	return outcome, nil
}

// persistLocked writes the screen asset (plus its event buffer), the camera
// asset if it produced data, and the project record.
func (w *Worker) persistLocked(durationMs int64) (Outcome, error) {
	timer := logging.StartTimer(logging.CategoryMedia, "persist assets")
	defer timer.Stop()

	bufferID := ""
	if w.buffer.Total() > 0 {
		data, err := w.buffer.Marshal()
		if err != nil {
			return Outcome{}, fmt.Errorf("marshal event buffer: %w", err)
		}
		bufferID, err = w.assembler.SaveBlob(data)
		if err != nil {
			return Outcome{}, fmt.Errorf("persist event buffer: %w", err)
		}
	}

	screenID, err := w.assembler.SaveBlob(w.screenRec.Blob())
	if err != nil {
		return Outcome{}, fmt.Errorf("persist screen asset: %w", err)
	}
	width, height := w.screenRec.Dimensions()
	sources := []project.SourceMetadata{{
		ID:            screenID,
		URL:           project.BlobURL(screenID),
		Width:         width,
		Height:        height,
		DurationMs:    durationMs,
		HasAudio:      w.screenRec.HasAudio(),
		EventBufferID: bufferID,
	}}

	if w.cameraRec != nil && w.cameraRec.HasData() {
		cameraID, err := w.assembler.SaveBlob(w.cameraRec.Blob())
		if err != nil {
			return Outcome{}, fmt.Errorf("persist camera asset: %w", err)
		}
		cw, ch := w.cameraRec.Dimensions()
		sources = append(sources, project.SourceMetadata{
			ID:         cameraID,
			URL:        project.BlobURL(cameraID),
			Width:      cw,
			Height:     ch,
			DurationMs: durationMs,
			HasAudio:   w.cameraRec.HasAudio(),
		})
	}

	proj := project.Project{
		ID:        project.NewID(),
		SessionID: w.sessionID,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	if err := w.assembler.SaveProject(proj); err != nil {
		return Outcome{}, fmt.Errorf("persist project: %w", err)
	}

	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	logging.Media("Finalized session=%s project=%s sources=%d events=%d",
		w.sessionID, proj.ID, len(sources), w.buffer.Total())
	return Outcome{DurationMs: durationMs, SourceIDs: ids, ProjectID: proj.ID}, nil
}

// Release force-releases all acquired resources. Safe to call at any time;
// used by the hosting context on teardown. Running recorders are stopped first
// (bounded) so their drain goroutines exit before the tracks go away.
func (w *Worker) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, rec := range []*Recorder{w.screenRec, w.cameraRec} {
		if rec == nil || rec.State() == RecorderIdle {
			continue
		}
		if err := rec.Stop(stopCtx); err != nil {
			logging.MediaWarn("Recorder stop during release: %v", err)
		}
	}

	w.releaseLocked()
	w.phase = PhaseIdle
	w.screenRec = nil
	w.cameraRec = nil
}

// releaseLocked stops every owned track exactly once and closes the mixer.
// Caller holds w.mu.
func (w *Worker) releaseLocked() {
	if w.released {
		return
	}
	w.released = true
	for _, t := range w.tracks {
		t.Stop()
	}
	w.tracks = nil
	if w.mixer != nil {
		if err := w.mixer.Close(); err != nil {
			logging.MediaWarn("Mixer close failed: %v", err)
		}
		w.mixer = nil
	}
}
