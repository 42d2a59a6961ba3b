package session

import "errors"

// Protocol error taxonomy. These are sentinel values so callers can branch with
// errors.Is across context boundaries; the wire form carries the code string.
var (
	// ErrSessionConflict: start requested while a session is active.
	ErrSessionConflict = errors.New("session conflict: a recording session is already active")

	// ErrCountdownTimeout: the capture agent never reported countdown completion.
	ErrCountdownTimeout = errors.New("countdown handshake timed out")

	// ErrWorkerUnready: the media worker readiness handshake exhausted its retries.
	ErrWorkerUnready = errors.New("media worker not ready")

	// ErrStreamUnavailable: the primary capture stream was denied or unavailable.
	// Fatal for the start; secondary sources degrade instead.
	ErrStreamUnavailable = errors.New("primary capture stream unavailable")

	// ErrSessionMismatch: an instruction's session id does not match the
	// receiver's tracked session (stale message after a stop/cancel race).
	ErrSessionMismatch = errors.New("session id mismatch")

	// ErrNoActiveRecorder: finalize requested with no recorder running.
	ErrNoActiveRecorder = errors.New("no active recorder")
)

// Code returns the stable wire identifier for a protocol error, or "" for
// errors outside the taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSessionConflict):
		return "ERR_SESSION_CONFLICT"
	case errors.Is(err, ErrCountdownTimeout):
		return "ERR_COUNTDOWN_TIMEOUT"
	case errors.Is(err, ErrWorkerUnready):
		return "ERR_WORKER_UNREADY"
	case errors.Is(err, ErrStreamUnavailable):
		return "ERR_STREAM_UNAVAILABLE"
	case errors.Is(err, ErrSessionMismatch):
		return "ERR_SESSION_MISMATCH"
	case errors.Is(err, ErrNoActiveRecorder):
		return "ERR_NO_ACTIVE_RECORDER"
	}
	return ""
}

// FromCode maps a wire identifier back to its sentinel. Unknown codes return nil.
func FromCode(code string) error {
	switch code {
	case "ERR_SESSION_CONFLICT":
		return ErrSessionConflict
	case "ERR_COUNTDOWN_TIMEOUT":
		return ErrCountdownTimeout
	case "ERR_WORKER_UNREADY":
		return ErrWorkerUnready
	case "ERR_STREAM_UNAVAILABLE":
		return ErrStreamUnavailable
	case "ERR_SESSION_MISMATCH":
		return ErrSessionMismatch
	case "ERR_NO_ACTIVE_RECORDER":
		return ErrNoActiveRecorder
	}
	return nil
}
