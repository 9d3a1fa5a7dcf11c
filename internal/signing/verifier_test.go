package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func encodeSeed(priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(priv.Seed())
}

// fakeResolver serves keys from a map and counts resolutions.
type fakeResolver struct {
	keys        map[string]ed25519.PublicKey
	resolves    int
	invalidated int
}

func (r *fakeResolver) ResolveKey(ctx context.Context, subscriberID, ukID string) (ed25519.PublicKey, error) {
	r.resolves++
	key, ok := r.keys[subscriberID+"|"+ukID]
	if !ok {
		return nil, errors.New("not found")
	}
	return key, nil
}

func (r *fakeResolver) Invalidate(subscriberID, ukID string) {
	r.invalidated++
}

func newTestSigner(t *testing.T) (*Signer, *Keypair) {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	signer, err := NewSigner(keypair.PrivateKey, "seller.example.com", "uk-1")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return signer, keypair
}

func resolverFor(t *testing.T, keypair *Keypair) *fakeResolver {
	t.Helper()
	key, err := ParsePublicKey(keypair.PublicKey)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	return &fakeResolver{keys: map[string]ed25519.PublicKey{
		"seller.example.com|uk-1": key,
	}}
}

func TestVerify_RoundTrip(t *testing.T) {
	signer, keypair := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(resolverFor(t, keypair))
	subscriberID, err := verifier.Verify(context.Background(), payload, signed.AuthHeader)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subscriberID != "seller.example.com" {
		t.Errorf("Verify() subscriber = %q, want seller.example.com", subscriberID)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	signer, keypair := newTestSigner(t)

	signed, err := signer.Sign([]byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(resolverFor(t, keypair))
	_, err = verifier.Verify(context.Background(), []byte(`{"x":2}`), signed.AuthHeader)

	var verr *VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("Verify() error = %v, want VerifyError", err)
	}
	if verr.Reason != RejectDigestMismatch && verr.Reason != RejectSignatureInvalid {
		t.Errorf("reason = %s, want DigestMismatch or SignatureInvalid", verr.Reason)
	}
}

func TestVerify_SingleByteMutations(t *testing.T) {
	signer, keypair := newTestSigner(t)
	payload := []byte(`{"order":"abc-123"}`)

	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(resolverFor(t, keypair))
	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01

		_, err := verifier.Verify(context.Background(), mutated, signed.AuthHeader)
		var verr *VerifyError
		if !errors.As(err, &verr) {
			t.Fatalf("byte %d: Verify() error = %v, want VerifyError", i, err)
		}
		if verr.Reason != RejectDigestMismatch && verr.Reason != RejectSignatureInvalid {
			t.Errorf("byte %d: reason = %s", i, verr.Reason)
		}
	}
}

func TestVerify_MissingHeader(t *testing.T) {
	verifier := NewVerifier(&fakeResolver{})

	_, err := verifier.Verify(context.Background(), []byte(`{}`), "")

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectMissingHeader {
		t.Errorf("Verify() error = %v, want MissingHeader", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	signer, keypair := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	// Sign far enough in the past that skew cannot save it.
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(resolverFor(t, keypair))
	_, err = verifier.Verify(context.Background(), payload, signed.AuthHeader)

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectExpired {
		t.Errorf("Verify() error = %v, want Expired", err)
	}
}

func TestVerify_CreatedInFuture(t *testing.T) {
	signer, keypair := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(resolverFor(t, keypair))
	_, err = verifier.Verify(context.Background(), payload, signed.AuthHeader)

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectExpired {
		t.Errorf("Verify() error = %v, want Expired", err)
	}
}

func TestVerify_UnsupportedAlgorithm(t *testing.T) {
	signer, keypair := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	header := strings.ReplaceAll(signed.AuthHeader, "ed25519", "rsa-sha256")

	verifier := NewVerifier(resolverFor(t, keypair))
	_, err = verifier.Verify(context.Background(), payload, header)

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectMalformedHeader {
		t.Errorf("Verify() error = %v, want MalformedHeader", err)
	}
}

func TestVerify_UnknownSubscriber(t *testing.T) {
	signer, _ := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	verifier := NewVerifier(&fakeResolver{keys: map[string]ed25519.PublicKey{}})
	_, err = verifier.Verify(context.Background(), payload, signed.AuthHeader)

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectUnknownSubscriber {
		t.Errorf("Verify() error = %v, want UnknownSubscriber", err)
	}
}

func TestVerify_WrongKeyInvalidatesBeforeRejecting(t *testing.T) {
	signer, _ := newTestSigner(t)
	payload := []byte(`{"x":1}`)

	signed, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// Resolver holds a different subscriber key, as after a rotation the
	// cache missed.
	otherKeypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	otherKey, err := ParsePublicKey(otherKeypair.PublicKey)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	resolver := &fakeResolver{keys: map[string]ed25519.PublicKey{
		"seller.example.com|uk-1": otherKey,
	}}

	verifier := NewVerifier(resolver)
	_, err = verifier.Verify(context.Background(), payload, signed.AuthHeader)

	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Reason != RejectSignatureInvalid {
		t.Errorf("Verify() error = %v, want SignatureInvalid", err)
	}
	if resolver.invalidated != 1 {
		t.Errorf("invalidations = %d, want 1 (rotated key must be ruled out)", resolver.invalidated)
	}
	if resolver.resolves != 2 {
		t.Errorf("resolutions = %d, want 2 (one retry after invalidation)", resolver.resolves)
	}
}

func TestSign_NoPrivateKey(t *testing.T) {
	_, err := NewSigner("", "sub", "uk")
	if !errors.Is(err, ErrNoPrivateKey) {
		t.Errorf("NewSigner() error = %v, want ErrNoPrivateKey", err)
	}
}

func TestSign_SeedSizedKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	priv, err := ParsePrivateKey(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}

	// Re-encode just the 32-byte seed; signatures must be identical.
	seedSigner, err := NewSigner(encodeSeed(priv), "sub", "uk")
	if err != nil {
		t.Fatalf("NewSigner(seed) error = %v", err)
	}
	fullSigner, err := NewSigner(keypair.PrivateKey, "sub", "uk")
	if err != nil {
		t.Fatalf("NewSigner(full) error = %v", err)
	}

	payload := []byte("payload")
	a, err := seedSigner.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	b, err := fullSigner.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if a.Signature != b.Signature {
		t.Error("seed-derived and full-key signatures differ")
	}
}
