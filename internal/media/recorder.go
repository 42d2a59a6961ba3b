package media

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmikh/recordio/internal/logging"
)

// RecorderState is the recorder's lifecycle state.
type RecorderState string

const (
	RecorderIdle      RecorderState = "idle"
	RecorderRecording RecorderState = "recording"
	RecorderStopping  RecorderState = "stopping"
	RecorderStopped   RecorderState = "stopped"
)

// DefaultChunkInterval keeps encoded data available incrementally rather than
// as one blob at the end.
const DefaultChunkInterval = 250 * time.Millisecond

// Recorder drains one video track plus an optional audio track into an
// in-memory chunk buffer on a fixed interval. It never stops its tracks;
// track release belongs to the worker's owned-track cleanup.
type Recorder struct {
	name     string
	video    Track
	audio    Track
	interval time.Duration

	mu     sync.Mutex
	state  RecorderState
	chunks [][]byte

	stopCh chan struct{}
	doneCh chan struct{} // closed when the drain loop has fully exited
}

// NewRecorder builds an idle recorder over the given tracks. audio may be nil
// for a video-only asset.
func NewRecorder(name string, video, audio Track, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	return &Recorder{
		name:     name,
		video:    video,
		audio:    audio,
		interval: interval,
		state:    RecorderIdle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start transitions idle → recording and begins draining chunks.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderIdle {
		return fmt.Errorf("recorder %s: start from state %s", r.name, r.state)
	}
	r.state = RecorderRecording
	go r.drainLoop()
	logging.Media("Recorder %s started (interval %v)", r.name, r.interval)
	return nil
}

func (r *Recorder) drainLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	videoCh := r.video.Data()
	var audioCh <-chan []byte
	if r.audio != nil {
		audioCh = r.audio.Data()
	}

	for {
		select {
		case <-ticker.C:
			r.drain(videoCh)
			r.drain(audioCh)
		case <-r.stopCh:
			// Final drain so nothing produced before the stop is lost.
			r.drain(videoCh)
			r.drain(audioCh)
			r.mu.Lock()
			r.state = RecorderStopped
			r.mu.Unlock()
			return
		}
	}
}

// drain moves every currently available chunk into the buffer without blocking.
func (r *Recorder) drain(ch <-chan []byte) {
	if ch == nil {
		return
	}
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.mu.Unlock()
		default:
			return
		}
	}
}

// Stop transitions recording → stopping and waits for the drain loop's stop
// event, bounded by ctx. Dimensions are not reliable until Stop returns.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case RecorderRecording:
		r.state = RecorderStopping
		close(r.stopCh)
	case RecorderStopping, RecorderStopped:
		// Stop is await-style and idempotent.
	default:
		r.mu.Unlock()
		return fmt.Errorf("recorder %s: stop from state %s", r.name, r.state)
	}
	r.mu.Unlock()

	select {
	case <-r.doneCh:
		logging.Media("Recorder %s stopped (%d chunks)", r.name, r.ChunkCount())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recorder %s: stop wait: %w", r.name, ctx.Err())
	}
}

// Blob assembles the accumulated chunks into the output asset.
func (r *Recorder) Blob() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Join(r.chunks, nil)
}

// HasData reports whether any chunk was produced.
func (r *Recorder) HasData() bool {
	return r.ChunkCount() > 0
}

// ChunkCount returns the number of buffered chunks.
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Dimensions reads the video track's last negotiated settings. Call after Stop.
func (r *Recorder) Dimensions() (int, int) {
	s := r.video.Settings()
	return s.Width, s.Height
}

// HasAudio reports whether the recorder carried an audio track.
func (r *Recorder) HasAudio() bool {
	return r.audio != nil
}
