// Package session defines the recording-session model shared across contexts:
// the single active RecordingSession, the immutable RecordingConfig resolved at
// start, the error taxonomy of the start/stop protocol, and the durable store
// that lets the coordinator rehydrate after a restart.
package session

import "time"

// Mode selects what the primary capture stream covers.
type Mode string

const (
	ModeTab     Mode = "tab"
	ModeWindow  Mode = "window"
	ModeDesktop Mode = "desktop"
)

// Recording is the single source of truth for "is anything recording right now".
// At most one active session exists process-wide; it is created, mutated and
// destroyed only by the coordinator.
type Recording struct {
	SessionID string `json:"session_id"`
	Recording bool   `json:"is_recording"`
	// TargetContextID identifies the recorded page/tab. Empty in desktop mode.
	TargetContextID string `json:"target_context_id,omitempty"`
	Mode            Mode   `json:"mode"`
	// StartTime anchors duration computation and translates event timestamps
	// into session-relative time.
	StartTime time.Time `json:"start_time"`
}

// DeviceSelections carries the UI's device choices for a start request.
// Empty IDs mean "default device"; the enabled flags gate acquisition.
type DeviceSelections struct {
	AudioEnabled  bool   `json:"audio_enabled"`
	CameraEnabled bool   `json:"camera_enabled"`
	MicrophoneID  string `json:"microphone_id,omitempty"`
	CameraID      string `json:"camera_id,omitempty"`
}

// Config holds the immutable capture parameters resolved once at start.
// Viewport geometry comes from the live countdown handshake, already scaled
// by device pixel ratio; it is never cached across sessions.
type Config struct {
	SessionID     string `json:"session_id"`
	Mode          Mode   `json:"mode"`
	AudioEnabled  bool   `json:"audio_enabled"`
	CameraEnabled bool   `json:"camera_enabled"`
	MicrophoneID  string `json:"microphone_id,omitempty"`
	CameraID      string `json:"camera_id,omitempty"`
	ViewportW     int    `json:"viewport_w"`
	ViewportH     int    `json:"viewport_h"`
	// CaptureHandle is the mode-specific token for the primary stream
	// (e.g. a tab capture-stream token). Empty in desktop mode.
	CaptureHandle string `json:"capture_handle,omitempty"`
}

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)
