package gate

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmesh/beckn-gateway/internal/callback"
	"github.com/bizmesh/beckn-gateway/internal/idempotency"
	"github.com/bizmesh/beckn-gateway/internal/models"
	"github.com/bizmesh/beckn-gateway/internal/signing"
)

type staticResolver struct {
	key ed25519.PublicKey
}

func (r *staticResolver) ResolveKey(_ context.Context, _, _ string) (ed25519.PublicKey, error) {
	return r.key, nil
}

func (r *staticResolver) Invalidate(_, _ string) {}

type testHarness struct {
	gate   *Gate
	signer *signing.Signer
	store  *idempotency.MemoryStore
}

func newTestHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	keypair, err := signing.GenerateKeypair()
	require.NoError(t, err)
	signer, err := signing.NewSigner(keypair.PrivateKey, "buyer.example.com", "uk-1")
	require.NoError(t, err)
	publicKey, err := signing.ParsePublicKey(keypair.PublicKey)
	require.NoError(t, err)

	verifier := signing.NewVerifier(&staticResolver{key: publicKey})
	store := idempotency.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 8
	}
	g := New(verifier, store, nil, nil, opts)
	t.Cleanup(g.Close)
	return &testHarness{gate: g, signer: signer, store: store}
}

func protocolBody(t *testing.T, action, txnID, msgID, bapURI string) []byte {
	t.Helper()
	env := models.Envelope{
		Context: models.Context{
			Domain:        "nic2004:52110",
			Action:        action,
			TransactionID: txnID,
			MessageID:     msgID,
			BapURI:        bapURI,
		},
		Message: json.RawMessage(`{"intent":{"item":{"descriptor":{"name":"tea"}}}}`),
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func (h *testHarness) signedHandle(t *testing.T, action string, body []byte) Response {
	t.Helper()
	signed, err := h.signer.Sign(body)
	require.NoError(t, err)
	return h.gate.Handle(context.Background(), action, body, signed.AuthHeader)
}

func (h *testHarness) waitForRecord(t *testing.T, txnID, msgID string) *idempotency.Record {
	t.Helper()
	var record *idempotency.Record
	require.Eventually(t, func() bool {
		var err error
		record, err = h.store.Get(context.Background(), txnID, msgID)
		return err == nil && record != nil
	}, 2*time.Second, 10*time.Millisecond)
	return record
}

// waitForIdle blocks until no message holds an in-flight slot, so a
// follow-up request exercises the replay path rather than the busy one.
func (h *testHarness) waitForIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.gate.mu.Lock()
		defer h.gate.mu.Unlock()
		return len(h.gate.inflight) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func requireAck(t *testing.T, resp Response) {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.Status)
	var ack models.AckResponse
	require.NoError(t, json.Unmarshal(resp.Body, &ack))
	require.Equal(t, models.StatusAck, ack.Message.Ack.Status)
}

func requireNack(t *testing.T, resp Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.Status)
	var ack models.AckResponse
	require.NoError(t, json.Unmarshal(resp.Body, &ack))
	require.Equal(t, models.StatusNack, ack.Message.Ack.Status)
	require.NotNil(t, ack.Error)
	require.Equal(t, code, ack.Error.Code)
}

func TestHandle_AcknowledgesAndProcesses(t *testing.T) {
	h := newTestHarness(t, Options{})
	var processed atomic.Int64
	h.gate.Register("search", ProcessorFunc(func(_ context.Context, env *models.Envelope, _ []byte) (*Outcome, error) {
		processed.Add(1)
		assert.Equal(t, "search", env.Context.Action)
		return nil, nil
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	resp := h.signedHandle(t, "search", protocolBody(t, "search", txnID, msgID, ""))
	requireAck(t, resp)

	record := h.waitForRecord(t, txnID, msgID)
	assert.True(t, record.Success)
	assert.Equal(t, "search", record.Action)
	assert.Equal(t, int64(1), processed.Load())
}

func TestHandle_DuplicateReplaysStoredAck(t *testing.T) {
	h := newTestHarness(t, Options{})
	var processed atomic.Int64
	h.gate.Register("confirm", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		processed.Add(1)
		return nil, nil
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	body := protocolBody(t, "confirm", txnID, msgID, "")

	first := h.signedHandle(t, "confirm", body)
	requireAck(t, first)
	h.waitForRecord(t, txnID, msgID)
	h.waitForIdle(t)

	second := h.signedHandle(t, "confirm", body)
	requireAck(t, second)

	assert.Equal(t, first.Body, second.Body, "replayed acknowledgment must be byte-identical")
	assert.Equal(t, int64(1), processed.Load(), "duplicate must trigger no reprocessing")
}

func TestHandle_InFlightDuplicateGetsTransientNack(t *testing.T) {
	h := newTestHarness(t, Options{})
	release := make(chan struct{})
	started := make(chan struct{})
	h.gate.Register("init", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		close(started)
		<-release
		return nil, nil
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	body := protocolBody(t, "init", txnID, msgID, "")

	first := h.signedHandle(t, "init", body)
	requireAck(t, first)
	<-started

	second := h.signedHandle(t, "init", body)
	requireNack(t, second, http.StatusOK, "31001")

	close(release)
	h.waitForRecord(t, txnID, msgID)
}

func TestHandle_TamperedBodyRejected(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.gate.Register("search", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		t.Error("processor must not run for a rejected message")
		return nil, nil
	}))

	body := protocolBody(t, "search", gofakeit.UUID(), gofakeit.UUID(), "")
	signed, err := h.signer.Sign(body)
	require.NoError(t, err)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01

	resp := h.gate.Handle(context.Background(), "search", tampered, signed.AuthHeader)
	requireNack(t, resp, http.StatusUnauthorized, "401")
}

func TestHandle_MissingAuthHeaderRejected(t *testing.T) {
	h := newTestHarness(t, Options{})
	body := protocolBody(t, "search", gofakeit.UUID(), gofakeit.UUID(), "")
	resp := h.gate.Handle(context.Background(), "search", body, "")
	requireNack(t, resp, http.StatusUnauthorized, "401")
}

func TestHandle_MissingMessageIDRejected(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.gate.Register("search", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		return nil, nil
	}))
	body := protocolBody(t, "search", gofakeit.UUID(), "", "")
	resp := h.signedHandle(t, "search", body)
	requireNack(t, resp, http.StatusOK, "30000")
}

func TestHandle_UnknownActionRejected(t *testing.T) {
	h := newTestHarness(t, Options{})
	body := protocolBody(t, "rate", gofakeit.UUID(), gofakeit.UUID(), "")
	resp := h.signedHandle(t, "rate", body)
	requireNack(t, resp, http.StatusOK, "30001")
}

func TestHandle_FailedProcessingNotCachedByDefault(t *testing.T) {
	h := newTestHarness(t, Options{})
	var attempts atomic.Int64
	done := make(chan struct{}, 2)
	h.gate.Register("status", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		attempts.Add(1)
		done <- struct{}{}
		return nil, fmt.Errorf("downstream unavailable")
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	body := protocolBody(t, "status", txnID, msgID, "")

	requireAck(t, h.signedHandle(t, "status", body))
	<-done
	h.waitForIdle(t)

	// Nothing was stored, so a retransmission is processed afresh.
	record, err := h.store.Get(context.Background(), txnID, msgID)
	require.NoError(t, err)
	require.Nil(t, record)

	requireAck(t, h.signedHandle(t, "status", body))
	<-done
	assert.Equal(t, int64(2), attempts.Load())
}

func TestHandle_FailedProcessingCachedForConfiguredActions(t *testing.T) {
	h := newTestHarness(t, Options{CacheFailureActions: []string{"cancel"}})
	var attempts atomic.Int64
	h.gate.Register("cancel", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("downstream unavailable")
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	body := protocolBody(t, "cancel", txnID, msgID, "")

	requireAck(t, h.signedHandle(t, "cancel", body))
	record := h.waitForRecord(t, txnID, msgID)
	assert.False(t, record.Success)
	h.waitForIdle(t)

	requireAck(t, h.signedHandle(t, "cancel", body))
	assert.Equal(t, int64(1), attempts.Load(), "cached failure must not be re-attempted")
}

func TestHandle_DeliversCallbackOnSuccess(t *testing.T) {
	var gotPath, gotAuth atomic.Value
	callbackDone := make(chan struct{})
	bap := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.NewAck())
		close(callbackDone)
	}))
	defer bap.Close()

	h := newTestHarness(t, Options{})
	dispatcher := callback.New(h.signer, callback.Config{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	h.gate.dispatcher = dispatcher

	h.gate.Register("select", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		return &Outcome{CallbackBody: []byte(`{"order":{"state":"SELECTED"}}`)}, nil
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	resp := h.signedHandle(t, "select", protocolBody(t, "select", txnID, msgID, bap.URL+"/beckn"))
	requireAck(t, resp)

	select {
	case <-callbackDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback delivery")
	}
	assert.Equal(t, "/beckn/on_select", gotPath.Load())
	assert.Contains(t, gotAuth.Load().(string), "Signature keyId=\"buyer.example.com|uk-1|ed25519\"")
}

func TestHandle_CallbackPathNotDoubledForInboundCallbacks(t *testing.T) {
	var gotPath atomic.Value
	callbackDone := make(chan struct{})
	bap := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		json.NewEncoder(w).Encode(models.NewAck())
		close(callbackDone)
	}))
	defer bap.Close()

	h := newTestHarness(t, Options{})
	h.gate.dispatcher = callback.New(h.signer, callback.Config{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)

	// Processor on an inbound on_* action leaves CallbackAction unset.
	h.gate.Register("on_status", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		return &Outcome{CallbackBody: []byte(`{"order":{"state":"DELIVERED"}}`)}, nil
	}))

	resp := h.signedHandle(t, "on_status", protocolBody(t, "on_status", gofakeit.UUID(), gofakeit.UUID(), bap.URL+"/beckn"))
	requireAck(t, resp)

	select {
	case <-callbackDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback delivery")
	}
	assert.Equal(t, "/beckn/on_status", gotPath.Load())
}

// faultyStore fails every read, as a Redis backend does when the
// connection is down. Writes go through so processing still completes.
type faultyStore struct {
	*idempotency.MemoryStore
	getErr error
}

func (s *faultyStore) Get(context.Context, string, string) (*idempotency.Record, error) {
	return nil, s.getErr
}

func TestHandle_StoreReadFailureDegradesToReprocessing(t *testing.T) {
	h := newTestHarness(t, Options{})
	h.gate.store = &faultyStore{MemoryStore: h.store, getErr: fmt.Errorf("connection refused")}

	var processed atomic.Int64
	h.gate.Register("status", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		processed.Add(1)
		return nil, nil
	}))

	txnID, msgID := gofakeit.UUID(), gofakeit.UUID()
	body := protocolBody(t, "status", txnID, msgID, "")

	requireAck(t, h.signedHandle(t, "status", body))
	require.Eventually(t, func() bool { return processed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.waitForIdle(t)

	// With reads failing the replay path is unreachable; the
	// retransmission is accepted and processed again.
	requireAck(t, h.signedHandle(t, "status", body))
	require.Eventually(t, func() bool { return processed.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandle_QueueFullRefusesBeforeAck(t *testing.T) {
	h := newTestHarness(t, Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	h.gate.Register("search", ProcessorFunc(func(context.Context, *models.Envelope, []byte) (*Outcome, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}))
	defer close(release)

	// Occupy the single worker, then fill the single queue slot.
	requireAck(t, h.signedHandle(t, "search", protocolBody(t, "search", gofakeit.UUID(), gofakeit.UUID(), "")))
	<-started
	requireAck(t, h.signedHandle(t, "search", protocolBody(t, "search", gofakeit.UUID(), gofakeit.UUID(), "")))

	resp := h.signedHandle(t, "search", protocolBody(t, "search", gofakeit.UUID(), gofakeit.UUID(), ""))
	requireNack(t, resp, http.StatusOK, "31001")
}
