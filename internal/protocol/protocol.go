// Package protocol defines the cross-context message protocol: a small fixed
// set of typed messages wrapped in a generic envelope. Contexts share no memory
// and see only these messages; delivery is asynchronous and at-most-once, so
// every handler is written to be idempotent and to reject stale session ids.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/jmikh/recordio/internal/events"
	"github.com/jmikh/recordio/internal/session"
)

// Type enumerates the protocol's message types. Receivers ignore unknown types
// without error.
type Type string

const (
	TypeStartSession     Type = "start_session"     // UI → coordinator
	TypeStopSession      Type = "stop_session"      // UI → coordinator
	TypeCancelSession    Type = "cancel_session"    // UI → coordinator
	TypePrepareCountdown Type = "prepare_countdown" // coordinator → agent
	TypeCountdownDone    Type = "countdown_done"    // agent → coordinator
	TypeBeginCapture     Type = "begin_capture"     // coordinator → worker, agent
	TypeEndCapture       Type = "end_capture"       // coordinator → worker, agent
	TypeFinalizeResult   Type = "finalize_result"   // worker → coordinator
	TypeCaptureEvent     Type = "capture_event"     // agent → worker
	TypePing             Type = "ping"              // coordinator → worker
	TypePong             Type = "pong"              // worker → coordinator
	TypeQueryState       Type = "query_state"       // any → coordinator
	TypeStateReport      Type = "state_report"      // coordinator → caller
	TypeAck              Type = "ack"               // generic reply
)

// Well-known context names on the bus. Page agents register as
// AgentContext(targetContextID).
const (
	ContextCoordinator = "coordinator"
	ContextWorker      = "worker"
)

// AgentContext returns the bus name of the capture agent for a page context.
func AgentContext(targetContextID string) string {
	return "agent:" + targetContextID
}

// Envelope is the unit of cross-context communication. SessionID correlates
// every instruction with the session it belongs to; CorrelationID pairs a
// reply with its request; From names the sending context for reply routing
// and caller-scoped queries.
type Envelope struct {
	Type          Type            `json:"type"`
	SessionID     string          `json:"sessionId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	From          string          `json:"from,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a marshaled payload. A nil payload is allowed.
func New(t Type, sessionID string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, SessionID: sessionID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// MustNew is New for payloads that cannot fail to marshal (protocol structs).
func MustNew(t Type, sessionID string, payload interface{}) Envelope {
	env, err := New(t, sessionID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into v. An empty payload decodes to the zero value.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// StartRequest begins a new session.
type StartRequest struct {
	TargetContextID string                   `json:"targetContextId,omitempty"`
	Mode            session.Mode             `json:"mode"`
	Devices         session.DeviceSelections `json:"devices"`
}

// StartResult acknowledges a start request.
type StartResult struct {
	SessionID string `json:"sessionId,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StopResult acknowledges a stop/cancel request.
type StopResult struct {
	DurationMs int64  `json:"durationMs"`
	EditorURL  string `json:"editorUrl,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CountdownDone is the geometry handshake reply. Width and height are CSS
// pixels as reported by the live page; DevicePixelRatio scales them.
type CountdownDone struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DevicePixelRatio float64 `json:"dpr"`
}

// BeginCapture instructs the worker and the agent to start, stamped with one
// synchronized start time (unix milliseconds) so downstream event timestamps
// are comparable across contexts.
type BeginCapture struct {
	StartTimeMs int64          `json:"startTimeMs"`
	Config      session.Config `json:"config"`
}

// EndCapture stops recording. Discard tells the worker to drop buffered data
// instead of persisting it (cancel path).
type EndCapture struct {
	Discard bool `json:"discard,omitempty"`
}

// FinalizeResult is the worker's reply to EndCapture.
type FinalizeResult struct {
	DurationMs int64    `json:"durationMs"`
	SourceIDs  []string `json:"sourceIds,omitempty"`
	ProjectID  string   `json:"projectId,omitempty"`
	Discarded  bool     `json:"discarded,omitempty"`
	ErrorCode  string   `json:"errorCode,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// CaptureEvent carries one classified event from the agent to the worker.
type CaptureEvent struct {
	Event events.Event `json:"event"`
}

// QueryState asks the coordinator for recording state scoped to the caller.
type QueryState struct {
	CallerContextID string `json:"callerContextId"`
}

// StateReport answers QueryState. IsRecording is true only for the recorded
// target context; unrelated pages always see false.
type StateReport struct {
	IsRecording bool  `json:"isRecording"`
	StartTimeMs int64 `json:"startTimeMs,omitempty"`
}
