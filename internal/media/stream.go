// Package media implements the media worker: it turns a resolved capture
// config into one or two persisted media assets. It owns every acquired track
// for the session's duration, runs the recorders, applies the audio routing
// and mixing policy, and drives the finalize protocol. Platform capture is an
// injected Device capability; this package never touches hardware directly.
package media

import (
	"context"

	"github.com/jmikh/recordio/internal/session"
)

// TrackKind distinguishes video and audio tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Settings are a track's last negotiated parameters. Dimensions are reliable
// only after the recorder consuming the track has stopped.
type Settings struct {
	Width  int
	Height int
}

// Track is one live media track, exclusively owned by the worker while a
// session runs. Data yields the track's encoded output; the channel closes
// when the track stops. Stop is idempotent.
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	Settings() Settings
	Data() <-chan []byte
	Stop()
}

// Stream groups the tracks acquired from one source.
type Stream struct {
	ID     string
	tracks []Track
}

// NewStream builds a stream over the given tracks.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

// Tracks returns all tracks of the stream.
func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	return s.tracks
}

// VideoTrack returns the stream's video track, or nil.
func (s *Stream) VideoTrack() Track {
	return s.trackOf(TrackVideo)
}

// AudioTrack returns the stream's audio track, or nil.
func (s *Stream) AudioTrack() Track {
	return s.trackOf(TrackAudio)
}

func (s *Stream) trackOf(kind TrackKind) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// DisplayRequest selects the primary capture stream.
type DisplayRequest struct {
	Mode session.Mode
	// CaptureHandle is the mode-specific token resolved by the coordinator
	// for tab/window capture. Empty in desktop mode.
	CaptureHandle string
	Width         int
	Height        int
}

// Device is the platform media-acquisition collaborator. The display stream
// may carry a system-audio track alongside its video track.
type Device interface {
	AcquireDisplay(ctx context.Context, req DisplayRequest) (*Stream, error)
	// AcquireMicrophone honors the device-id constraint when non-empty.
	AcquireMicrophone(ctx context.Context, deviceID string) (*Stream, error)
	AcquireCamera(ctx context.Context, deviceID string) (*Stream, error)
	// NewMixer creates an audio mixing context for single-source mode.
	NewMixer() (Mixer, error)
	// Playback replays captured audio to the local output device.
	Playback() Playback
}

// Mixer combines two audio tracks into one output track. Closed at finalize.
type Mixer interface {
	Mix(a, b Track) (Track, error)
	Close() error
}

// Playback routes a captured audio track to local output. System audio
// captured with the display is swallowed by the platform unless explicitly
// replayed, so the operator would otherwise record sound they cannot hear.
type Playback interface {
	Route(track Track) error
}
