package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bizmesh/beckn-gateway/internal/callback"
	"github.com/bizmesh/beckn-gateway/internal/idempotency"
	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/metrics"
	"github.com/bizmesh/beckn-gateway/internal/models"
	"github.com/bizmesh/beckn-gateway/internal/signing"
)

// Processing states for one inbound message. Verification failure is
// terminal before acknowledged; everything after acknowledged is
// internal and surfaces only through logs, metrics and callbacks.
type state string

const (
	stateReceived         state = "received"
	stateVerified         state = "verified"
	stateAcknowledged     state = "acknowledged"
	stateDone             state = "done"
	stateProcessingFailed state = "processing_failed"
)

// Outcome is what a processor hands back: the result to remember for
// replays and, optionally, a callback payload owed to the counterparty.
type Outcome struct {
	Result         json.RawMessage
	CallbackAction string
	CallbackBody   []byte
}

// Processor executes the business side effects for one verified message.
// It runs detached from the originating request.
type Processor interface {
	Process(ctx context.Context, env *models.Envelope, rawBody []byte) (*Outcome, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, env *models.Envelope, rawBody []byte) (*Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, env *models.Envelope, rawBody []byte) (*Outcome, error) {
	return f(ctx, env, rawBody)
}

// Options tune per-gate behavior.
type Options struct {
	Workers   int
	QueueSize int
	// ResultTTL bounds how long a processed message replays its stored
	// acknowledgment instead of reprocessing.
	ResultTTL time.Duration
	// CacheFailureActions lists actions whose failed processing is
	// cached too, so a retransmission replays instead of re-attempting.
	CacheFailureActions []string
}

// Response is the synchronous reply to an inbound request. Body is
// written verbatim so replayed acknowledgments stay byte-identical.
type Response struct {
	Status int
	Body   []byte
}

// Gate implements acknowledge-then-process: it verifies an inbound
// request, replies immediately, and runs the side effects on a worker
// pool gated by the idempotency store.
type Gate struct {
	verifier   *signing.Verifier
	store      idempotency.Store
	dispatcher *callback.Dispatcher
	pool       *pool
	logger     *logging.Logger

	resultTTL     time.Duration
	cacheFailures map[string]bool

	mu         sync.Mutex
	processors map[string]Processor
	inflight   map[string]struct{}
}

// New constructs a Gate. The dispatcher may be nil when the gateway owes
// no outbound callbacks.
func New(verifier *signing.Verifier, store idempotency.Store, dispatcher *callback.Dispatcher, logger *logging.Logger, opts Options) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 30 * time.Minute
	}
	cacheFailures := make(map[string]bool, len(opts.CacheFailureActions))
	for _, action := range opts.CacheFailureActions {
		cacheFailures[action] = true
	}
	return &Gate{
		verifier:      verifier,
		store:         store,
		dispatcher:    dispatcher,
		pool:          newPool(opts.Workers, opts.QueueSize, logger),
		logger:        logger,
		resultTTL:     opts.ResultTTL,
		cacheFailures: cacheFailures,
		processors:    make(map[string]Processor),
		inflight:      make(map[string]struct{}),
	}
}

// Register binds a processor to a protocol action.
func (g *Gate) Register(action string, p Processor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processors[action] = p
}

// Handle runs the full inbound path for one request: verify, consult the
// idempotency store, acknowledge, and schedule detached processing.
func (g *Gate) Handle(ctx context.Context, action string, rawBody []byte, authHeader string) Response {
	subscriberID, err := g.verifier.Verify(ctx, rawBody, authHeader)
	if err != nil {
		return g.rejectVerification(ctx, action, err)
	}
	metrics.VerificationsTotal.WithLabelValues("ok").Inc()

	env, err := models.ParseEnvelope(rawBody)
	if err != nil || env.Context.TransactionID == "" || env.Context.MessageID == "" {
		return nackResponse(http.StatusOK, "CONTEXT-ERROR", "30000", "missing transaction_id or message_id")
	}

	txnID, msgID := env.Context.TransactionID, env.Context.MessageID
	log := g.logger.With(
		logging.TransactionID(txnID),
		logging.MessageID(msgID),
		logging.SubscriberID(subscriberID),
		logging.Action(action),
	)
	log.DebugContext(ctx, "message verified", "state", stateVerified)

	g.mu.Lock()
	processor, known := g.processors[action]
	if !known {
		g.mu.Unlock()
		return nackResponse(http.StatusOK, "CONTEXT-ERROR", "30001", "unsupported action")
	}
	inflightKey := txnID + ":" + msgID
	if _, busy := g.inflight[inflightKey]; busy {
		g.mu.Unlock()
		// A duplicate racing the first delivery is refused with a
		// transient code; the retransmission will hit the stored record.
		return nackResponse(http.StatusOK, "CORE-ERROR", "31001", "message processing in progress")
	}
	g.inflight[inflightKey] = struct{}{}
	g.mu.Unlock()

	// Replay: a message already processed returns its stored
	// acknowledgment verbatim and triggers no new side effects. The
	// store is consulted only after the inflight slot is held, since a
	// record is written before the slot is released.
	record, err := g.store.Get(ctx, txnID, msgID)
	if err != nil {
		// A broken store degrades to reprocessing; the side effects may
		// run again, so the degradation must be visible.
		log.WarnContext(ctx, "idempotency lookup failed, reprocessing", logging.Error(err))
	}
	if record != nil {
		g.clearInflight(inflightKey)
		metrics.IdempotencyHits.Inc()
		log.InfoContext(ctx, "replaying stored acknowledgment", "state", stateDone)
		return Response{Status: http.StatusOK, Body: record.Result}
	}

	ackBody, err := json.Marshal(models.NewAck())
	if err != nil {
		g.clearInflight(inflightKey)
		return nackResponse(http.StatusInternalServerError, "CORE-ERROR", "500", "internal error")
	}

	accepted := g.pool.submit(task{
		transactionID: txnID,
		messageID:     msgID,
		run: func(taskCtx context.Context) {
			g.process(taskCtx, processor, env, rawBody, action, ackBody, inflightKey)
		},
	})
	if !accepted {
		g.clearInflight(inflightKey)
		return nackResponse(http.StatusOK, "CORE-ERROR", "31001", "gateway busy, retry later")
	}

	log.InfoContext(ctx, "message acknowledged", "state", stateAcknowledged)
	return Response{Status: http.StatusOK, Body: ackBody}
}

// process runs on the worker pool, detached from the inbound request.
// Failures are contained here: there is no channel back to the original
// caller, so a correction travels via a subsequent outbound callback.
func (g *Gate) process(ctx context.Context, processor Processor, env *models.Envelope, rawBody []byte, action string, ackBody []byte, inflightKey string) {
	defer g.clearInflight(inflightKey)

	txnID, msgID := env.Context.TransactionID, env.Context.MessageID
	log := g.logger.With(
		logging.TransactionID(txnID),
		logging.MessageID(msgID),
		logging.Action(action),
	)

	outcome, err := processor.Process(ctx, env, rawBody)
	if err != nil {
		metrics.ProcessingTotal.WithLabelValues(action, "failure").Inc()
		log.Error("background processing failed", "state", stateProcessingFailed, logging.Error(err))
		if g.cacheFailures[action] {
			g.storeRecord(ctx, txnID, msgID, action, false, ackBody, log)
		}
		return
	}

	metrics.ProcessingTotal.WithLabelValues(action, "success").Inc()
	g.storeRecord(ctx, txnID, msgID, action, true, ackBody, log)
	log.Info("background processing complete", "state", stateDone)

	if outcome != nil && len(outcome.CallbackBody) > 0 && g.dispatcher != nil && env.Context.BapURI != "" {
		callbackAction := outcome.CallbackAction
		if callbackAction == "" {
			// An inbound on_* action defaults to its own callback name,
			// not a doubled on_on_* path.
			callbackAction = strings.TrimPrefix(action, "on_")
		}
		url := callback.CallbackURL(env.Context.BapURI, callbackAction)
		result := g.dispatcher.Deliver(ctx, url, outcome.CallbackBody, txnID, "on_"+callbackAction)
		if !result.Success {
			log.Error("callback delivery failed",
				logging.URL(url),
				logging.Attempt(result.Attempts),
				"retryable", result.Retryable,
				logging.Error(result.Err),
			)
		}
	}
}

func (g *Gate) storeRecord(ctx context.Context, txnID, msgID, action string, success bool, ackBody []byte, log *logging.Logger) {
	record := &idempotency.Record{
		TransactionID: txnID,
		MessageID:     msgID,
		Action:        action,
		Success:       success,
		Result:        ackBody,
		StoredAt:      time.Now(),
	}
	if err := g.store.Put(ctx, record, g.resultTTL); err != nil {
		log.Error("failed to store idempotency record", logging.Error(err))
	}
}

func (g *Gate) clearInflight(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}

func (g *Gate) rejectVerification(ctx context.Context, action string, err error) Response {
	var verr *signing.VerifyError
	if errors.As(err, &verr) {
		metrics.VerificationsTotal.WithLabelValues(string(verr.Reason)).Inc()
		g.logger.WarnContext(ctx, "verification rejected",
			logging.Action(action),
			"reason", string(verr.Reason),
		)
		return nackResponse(http.StatusUnauthorized, "AUTH-ERROR", "401", verr.Error())
	}
	if errors.Is(err, signing.ErrNoPrivateKey) {
		g.logger.ErrorContext(ctx, "signing key not configured", logging.Action(action))
		return nackResponse(http.StatusInternalServerError, "CORE-ERROR", "500", "gateway misconfigured")
	}
	metrics.VerificationsTotal.WithLabelValues("error").Inc()
	return nackResponse(http.StatusUnauthorized, "AUTH-ERROR", "401", "authentication failed")
}

func nackResponse(status int, errType, code, message string) Response {
	body, err := json.Marshal(models.NewNack(errType, code, message))
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: []byte(`{}`)}
	}
	return Response{Status: status, Body: body}
}

// Close drains the worker pool and releases resources.
func (g *Gate) Close() {
	g.pool.close()
}
