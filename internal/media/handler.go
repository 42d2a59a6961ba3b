package media

import (
	"context"
	"time"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

// finalizeBudget bounds how long the worker context spends stopping recorders
// and persisting before it reports a failure.
const finalizeBudget = 15 * time.Second

// ContextHandler is the worker context's message loop body. The bus runs it on
// a single consumer goroutine, so handler invocations are serialized.
type ContextHandler struct {
	worker     *Worker
	dispatcher *bus.Dispatcher
}

// NewContextHandler binds a worker to the dispatcher for replies.
func NewContextHandler(w *Worker, d *bus.Dispatcher) *ContextHandler {
	return &ContextHandler{worker: w, dispatcher: d}
}

// Handle processes one inbound envelope. Unknown types are ignored without
// error; instructions for a foreign session are rejected by the worker itself.
func (h *ContextHandler) Handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		h.reply(env, protocol.Envelope{Type: protocol.TypePong, SessionID: env.SessionID})

	case protocol.TypeBeginCapture:
		var p protocol.BeginCapture
		if err := env.Decode(&p); err != nil {
			logging.MediaError("BeginCapture decode: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), finalizeBudget)
		defer cancel()
		if err := h.worker.Begin(ctx, p.Config, p.StartTimeMs); err != nil {
			logging.MediaError("Begin failed: %v", err)
			h.reply(env, protocol.MustNew(protocol.TypeAck, env.SessionID, protocol.StartResult{
				ErrorCode: session.Code(err),
				Reason:    err.Error(),
			}))
			return
		}
		h.reply(env, protocol.MustNew(protocol.TypeAck, env.SessionID, protocol.StartResult{SessionID: env.SessionID}))

	case protocol.TypeEndCapture:
		var p protocol.EndCapture
		if err := env.Decode(&p); err != nil {
			logging.MediaError("EndCapture decode: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), finalizeBudget)
		defer cancel()
		outcome, err := h.worker.Finalize(ctx, env.SessionID, p.Discard)
		result := protocol.FinalizeResult{
			DurationMs: outcome.DurationMs,
			SourceIDs:  outcome.SourceIDs,
			ProjectID:  outcome.ProjectID,
			Discarded:  outcome.Discarded,
		}
		if err != nil {
			result.ErrorCode = session.Code(err)
			result.Reason = err.Error()
		}
		h.reply(env, protocol.MustNew(protocol.TypeFinalizeResult, env.SessionID, result))

	case protocol.TypeCaptureEvent:
		var p protocol.CaptureEvent
		if err := env.Decode(&p); err != nil {
			logging.MediaError("CaptureEvent decode: %v", err)
			return
		}
		h.worker.AddEvent(env.SessionID, p.Event)
	}
}

func (h *ContextHandler) reply(req protocol.Envelope, res protocol.Envelope) {
	if req.From == "" {
		return
	}
	res.CorrelationID = req.CorrelationID
	res.From = protocol.ContextWorker
	h.dispatcher.Send(req.From, res)
}
