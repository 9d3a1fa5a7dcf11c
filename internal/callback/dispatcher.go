package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/metrics"
	"github.com/bizmesh/beckn-gateway/internal/models"
	"github.com/bizmesh/beckn-gateway/internal/signing"
)

// transientErrorCodes are counterparty NACK codes that are worth
// retrying; any other NACK code is a deterministic rejection.
var transientErrorCodes = map[string]bool{
	"23001": true,
	"31001": true,
}

// Outcome is the terminal result of a delivery obligation.
type Outcome struct {
	Success   bool
	Retryable bool
	Attempts  int
	Status    int
	Err       error
}

// Config configures the dispatcher.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
	// Also emit Digest and Signature headers duplicating the values in
	// Authorization, for consumers that require them separately.
	DuplicateSignatureHeaders bool
}

// Dispatcher delivers signed callbacks to counterparty endpoints with
// bounded retry. It holds no state beyond the current attempt loop.
type Dispatcher struct {
	signer     *signing.Signer
	httpClient *http.Client
	cfg        Config
	logger     *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher using the given signer for outbound requests.
func New(signer *signing.Signer, cfg Config, logger *logging.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		signer: signer,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// CallbackURL joins a counterparty base URI with the callback action
// path, e.g. ("https://bap.example.com/beckn", "search") →
// ".../beckn/on_search".
func CallbackURL(baseURI, action string) string {
	return strings.TrimRight(baseURI, "/") + "/on_" + action
}

// Deliver signs and POSTs payload to url, retrying transient failures up
// to MaxAttempts with exponentially increasing delay. A non-retryable
// classification stops the loop immediately regardless of attempts left.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload []byte, transactionID, callbackType string) Outcome {
	var last Outcome

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		last = d.attempt(ctx, url, payload, callbackType)
		last.Attempts = attempt

		d.logAttempt(ctx, url, transactionID, callbackType, attempt, last)

		if last.Success || !last.Retryable {
			return last
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := d.cfg.BaseDelay << (attempt - 1)
		if err := d.sleep(ctx, delay); err != nil {
			last.Err = err
			return last
		}
	}

	return last
}

func (d *Dispatcher) attempt(ctx context.Context, url string, payload []byte, callbackType string) Outcome {
	signed, err := d.signer.Sign(payload)
	if err != nil {
		// Missing key is a configuration fault, not a transient one.
		return Outcome{Retryable: false, Err: err}
	}

	start := time.Now()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(signed.Payload))
	if err != nil {
		return Outcome{Retryable: false, Err: fmt.Errorf("build callback request: %w", err)}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", signed.AuthHeader)
	if d.cfg.DuplicateSignatureHeaders {
		request.Header.Set("Digest", signed.Digest)
		request.Header.Set("Signature", signed.Signature)
	}

	resp, err := d.httpClient.Do(request)
	if err != nil {
		metrics.CallbackAttempts.WithLabelValues(callbackType, "network_error").Inc()
		return Outcome{Retryable: true, Err: fmt.Errorf("send callback: %w", err)}
	}
	defer resp.Body.Close()
	metrics.CallbackDuration.Observe(time.Since(start).Seconds())

	var ack models.AckResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&ack)

	out := Outcome{Status: resp.StatusCode}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		decodeErr == nil && ack.Message.Ack.Status == models.StatusAck:
		metrics.CallbackAttempts.WithLabelValues(callbackType, "ack").Inc()
		out.Success = true

	case resp.StatusCode == http.StatusBadRequest:
		// Deterministic rejection; retrying cannot change the outcome.
		metrics.CallbackAttempts.WithLabelValues(callbackType, "rejected").Inc()
		out.Retryable = false
		out.Err = fmt.Errorf("callback rejected with status %d", resp.StatusCode)

	case decodeErr == nil && ack.Error != nil && !transientErrorCodes[ack.Error.Code]:
		metrics.CallbackAttempts.WithLabelValues(callbackType, "nack").Inc()
		out.Retryable = false
		out.Err = fmt.Errorf("callback NACK with code %s: %s", ack.Error.Code, ack.Error.Message)

	default:
		metrics.CallbackAttempts.WithLabelValues(callbackType, "retryable").Inc()
		out.Retryable = true
		out.Err = fmt.Errorf("callback failed with status %d", resp.StatusCode)
	}

	return out
}

func (d *Dispatcher) logAttempt(ctx context.Context, url, transactionID, callbackType string, attempt int, out Outcome) {
	attrs := []any{
		logging.TransactionID(transactionID),
		logging.Action(callbackType),
		logging.URL(url),
		logging.Attempt(attempt),
		logging.Status(out.Status),
	}
	if out.Success {
		d.logger.InfoContext(ctx, "callback delivered", attrs...)
		return
	}
	if out.Err != nil {
		attrs = append(attrs, logging.Error(out.Err))
	}
	d.logger.WarnContext(ctx, "callback attempt failed", attrs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
