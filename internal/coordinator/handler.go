package coordinator

import (
	"context"
	"errors"

	"github.com/jmikh/recordio/internal/bus"
	"github.com/jmikh/recordio/internal/logging"
	"github.com/jmikh/recordio/internal/protocol"
	"github.com/jmikh/recordio/internal/session"
)

// Handler adapts the coordinator to the bus: it decodes UI instructions,
// invokes the matching operation, and replies to the sender. Because bus
// delivery is at-most-once, every instruction is answered explicitly rather
// than assumed delivered.
type Handler struct {
	c    *Coordinator
	disp *bus.Dispatcher
}

// NewHandler builds the coordinator's bus handler.
func NewHandler(c *Coordinator, d *bus.Dispatcher) *Handler {
	return &Handler{c: c, disp: d}
}

// Register installs the handler under the coordinator's well-known bus name.
func (h *Handler) Register() error {
	return h.disp.Register(protocol.ContextCoordinator, h.Handle)
}

// Handle processes one envelope. Unknown types are ignored.
func (h *Handler) Handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeStartSession:
		h.handleStart(env)
	case protocol.TypeStopSession:
		h.handleStop(env, false)
	case protocol.TypeCancelSession:
		h.handleStop(env, true)
	case protocol.TypeQueryState:
		h.handleQuery(env)
	default:
		logging.CoordinatorDebug("Ignoring %s from %s", env.Type, env.From)
	}
}

func (h *Handler) handleStart(env protocol.Envelope) {
	var req protocol.StartRequest
	if err := env.Decode(&req); err != nil {
		logging.CoordinatorError("Bad start request from %s: %v", env.From, err)
		h.reply(env, protocol.TypeAck, "", protocol.StartResult{
			ErrorCode: "ERR_BAD_REQUEST", Reason: err.Error(),
		})
		return
	}

	sessionID, err := h.c.StartSession(context.Background(), req)
	res := protocol.StartResult{SessionID: sessionID}
	if err != nil {
		res.ErrorCode = errorCode(err)
		res.Reason = err.Error()
	}
	h.reply(env, protocol.TypeAck, sessionID, res)
}

func (h *Handler) handleStop(env protocol.Envelope, cancel bool) {
	var (
		res protocol.StopResult
		err error
	)
	if cancel {
		res, err = h.c.CancelSession(context.Background(), env.SessionID)
	} else {
		res, err = h.c.StopSession(context.Background(), env.SessionID)
	}
	if err != nil {
		res.ErrorCode = errorCode(err)
		res.Reason = err.Error()
	}
	h.reply(env, protocol.TypeAck, env.SessionID, res)
}

func (h *Handler) handleQuery(env protocol.Envelope) {
	var q protocol.QueryState
	if err := env.Decode(&q); err != nil {
		logging.CoordinatorError("Bad state query from %s: %v", env.From, err)
		return
	}
	caller := q.CallerContextID
	if caller == "" {
		caller = env.From
	}
	h.reply(env, protocol.TypeStateReport, env.SessionID, h.c.QueryState(caller))
}

// reply answers the sender, echoing the correlation id so awaited calls
// resolve. Fire-and-forget senders simply get a message in their inbox.
func (h *Handler) reply(req protocol.Envelope, t protocol.Type, sessionID string, payload interface{}) {
	if req.From == "" {
		return
	}
	res := protocol.MustNew(t, sessionID, payload)
	res.CorrelationID = req.CorrelationID
	res.From = protocol.ContextCoordinator
	h.disp.Send(req.From, res)
}

// errorCode maps an operation error to its wire code, falling back to a
// generic code for unclassified failures.
func errorCode(err error) string {
	if code := session.Code(err); code != "" {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return session.Code(session.ErrCountdownTimeout)
	}
	return "ERR_INTERNAL"
}
