package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/bizmesh/beckn-gateway/internal/gate"
	"github.com/bizmesh/beckn-gateway/internal/httputil"
	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/models"
)

// maxBodySize bounds inbound message bodies at 1 MiB.
const maxBodySize = 1 << 20

// Actions is the protocol surface this gateway serves. Inbound on_*
// callbacks share the same verify-ack-process path as forward actions.
var Actions = []string{
	"search", "select", "init", "confirm", "status", "cancel", "update",
	"on_search", "on_select", "on_init", "on_confirm", "on_status", "on_cancel", "on_update",
}

// ProtocolHandler serves the signed protocol endpoints. Every action
// shares one path: read the raw bytes, hand them to the gate, write the
// gate's response verbatim.
type ProtocolHandler struct {
	gate   *gate.Gate
	logger *logging.Logger
}

func NewProtocolHandler(g *gate.Gate, logger *logging.Logger) *ProtocolHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProtocolHandler{gate: g, logger: logger}
}

// Action returns the handler for one protocol action.
func (h *ProtocolHandler) Action(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// The exact received bytes are what gets digest-checked; they
		// are never re-serialized.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil {
			httputil.WriteNack(w, http.StatusBadRequest, "CONTEXT-ERROR", "400", "unreadable body")
			return
		}
		defer r.Body.Close()
		if len(body) == 0 {
			httputil.WriteNack(w, http.StatusBadRequest, "CONTEXT-ERROR", "400", "empty body")
			return
		}
		if len(body) > maxBodySize {
			httputil.WriteNack(w, http.StatusBadRequest, "CONTEXT-ERROR", "400", "body too large")
			return
		}

		resp := h.gate.Handle(r.Context(), action, body, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.WarnContext(r.Context(), "failed to write response", logging.Error(err))
		}
	}
}

// Health reports liveness.
func (h *ProtocolHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// LoggingProcessor acknowledges and logs a message without business side
// effects. It stands in where no backend processor is registered; real
// deployments replace it through gate.Register.
type LoggingProcessor struct {
	Logger *logging.Logger
}

func (p *LoggingProcessor) Process(ctx context.Context, env *models.Envelope, rawBody []byte) (*gate.Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("processed message",
		logging.TransactionID(env.Context.TransactionID),
		logging.MessageID(env.Context.MessageID),
		logging.Action(env.Context.Action),
	)
	return &gate.Outcome{}, nil
}
