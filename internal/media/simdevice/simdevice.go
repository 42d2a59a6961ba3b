// Package simdevice provides a synthetic media.Device: tracks generate
// placeholder encoded chunks on a timer instead of touching real hardware.
// The daemon uses it when no platform capture backend is configured, and
// tests use its failure injection to exercise the worker's degradation and
// resource-release paths.
package simdevice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmikh/recordio/internal/media"
)

const chunkEvery = 50 * time.Millisecond

// Track is a synthetic media track producing fixed-size chunks until stopped.
type Track struct {
	id       string
	kind     media.TrackKind
	label    string
	settings media.Settings

	data     chan []byte
	stopOnce sync.Once
	stopCh   chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newTrack(kind media.TrackKind, label string, settings media.Settings) *Track {
	t := &Track{
		id:       uuid.NewString(),
		kind:     kind,
		label:    label,
		settings: settings,
		data:     make(chan []byte, 256),
		stopCh:   make(chan struct{}),
	}
	go t.generate()
	return t
}

func (t *Track) generate() {
	defer close(t.data)
	ticker := time.NewTicker(chunkEvery)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			chunk := []byte(fmt.Sprintf("%s:%s:%06d;", t.kind, t.label, seq))
			seq++
			select {
			case t.data <- chunk:
			default:
				// Consumer is behind; synthetic frames are droppable.
			}
		}
	}
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() media.TrackKind    { return t.kind }
func (t *Track) Label() string            { return t.label }
func (t *Track) Settings() media.Settings { return t.settings }
func (t *Track) Data() <-chan []byte      { return t.data }

// Stop ends chunk generation. Idempotent.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
	})
}

// Stopped reports whether the track has been released.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Options controls failure injection and stream shape.
type Options struct {
	FailDisplay    bool
	FailMicrophone bool
	FailCamera     bool
	// SystemAudio adds a system-audio track to the display stream.
	SystemAudio bool
}

// Device is a synthetic media.Device.
type Device struct {
	opts Options

	mu      sync.Mutex
	created []*Track
	routed  []media.Track
	mixers  []*Mixer
}

// New creates a simulated device.
func New(opts Options) *Device {
	return &Device{opts: opts}
}

func (d *Device) track(kind media.TrackKind, label string, settings media.Settings) *Track {
	t := newTrack(kind, label, settings)
	d.mu.Lock()
	d.created = append(d.created, t)
	d.mu.Unlock()
	return t
}

// AcquireDisplay returns the primary capture stream, optionally with system audio.
func (d *Device) AcquireDisplay(_ context.Context, req media.DisplayRequest) (*media.Stream, error) {
	if d.opts.FailDisplay {
		return nil, errors.New("display capture denied")
	}
	w, h := req.Width, req.Height
	if w == 0 || h == 0 {
		w, h = 1280, 720
	}
	tracks := []media.Track{d.track(media.TrackVideo, "display", media.Settings{Width: w, Height: h})}
	if d.opts.SystemAudio {
		tracks = append(tracks, d.track(media.TrackAudio, "system", media.Settings{}))
	}
	return media.NewStream("display:"+string(req.Mode), tracks...), nil
}

// AcquireMicrophone returns a one-track audio stream.
func (d *Device) AcquireMicrophone(_ context.Context, deviceID string) (*media.Stream, error) {
	if d.opts.FailMicrophone {
		return nil, errors.New("microphone unavailable")
	}
	label := "mic"
	if deviceID != "" {
		label = "mic:" + deviceID
	}
	return media.NewStream("microphone", d.track(media.TrackAudio, label, media.Settings{})), nil
}

// AcquireCamera returns a one-track video stream.
func (d *Device) AcquireCamera(_ context.Context, deviceID string) (*media.Stream, error) {
	if d.opts.FailCamera {
		return nil, errors.New("camera unavailable")
	}
	label := "camera"
	if deviceID != "" {
		label = "camera:" + deviceID
	}
	return media.NewStream("camera", d.track(media.TrackVideo, label, media.Settings{Width: 640, Height: 480})), nil
}

// NewMixer returns a mixer whose output track interleaves synthetic chunks.
func (d *Device) NewMixer() (media.Mixer, error) {
	m := &Mixer{device: d}
	d.mu.Lock()
	d.mixers = append(d.mixers, m)
	d.mu.Unlock()
	return m, nil
}

// Playback records which tracks were routed to local output.
func (d *Device) Playback() media.Playback {
	return playbackFunc(func(t media.Track) error {
		d.mu.Lock()
		d.routed = append(d.routed, t)
		d.mu.Unlock()
		return nil
	})
}

type playbackFunc func(media.Track) error

func (f playbackFunc) Route(t media.Track) error { return f(t) }

// RoutedTracks returns the tracks replayed to local output.
func (d *Device) RoutedTracks() []media.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]media.Track, len(d.routed))
	copy(out, d.routed)
	return out
}

// LiveTrackCount counts created tracks not yet stopped.
func (d *Device) LiveTrackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.created {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

// Mixer combines two audio tracks into a synthetic mixed track.
type Mixer struct {
	device *Device

	mu     sync.Mutex
	closed bool
	out    *Track
}

// Mix produces one audio track labeled with both inputs.
func (m *Mixer) Mix(a, b media.Track) (media.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("mixer closed")
	}
	if a == nil || b == nil {
		return nil, errors.New("mixer requires two input tracks")
	}
	m.out = m.device.track(media.TrackAudio, "mix("+a.Label()+"+"+b.Label()+")", media.Settings{})
	return m.out, nil
}

// Close releases the mixing context and its output track.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.out != nil {
		m.out.Stop()
	}
	return nil
}

// Closed reports whether Close ran.
func (m *Mixer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
