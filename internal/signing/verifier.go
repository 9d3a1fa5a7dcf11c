package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"
)

// RejectReason classifies why an inbound request failed verification.
// Every reason is terminal for the request; there are no retries on the
// verification path.
type RejectReason string

const (
	RejectMissingHeader     RejectReason = "MissingHeader"
	RejectMalformedHeader   RejectReason = "MalformedHeader"
	RejectExpired           RejectReason = "Expired"
	RejectMalformedKeyID    RejectReason = "MalformedKeyId"
	RejectUnknownSubscriber RejectReason = "UnknownSubscriber"
	RejectDigestMismatch    RejectReason = "DigestMismatch"
	RejectSignatureInvalid  RejectReason = "SignatureInvalid"
)

// VerifyError is a terminal verification rejection.
type VerifyError struct {
	Reason RejectReason
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification rejected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verification rejected (%s)", e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

func reject(reason RejectReason, err error) error {
	return &VerifyError{Reason: reason, Err: err}
}

// KeyResolver resolves a subscriber's registered signing key. A resolver
// failure of any kind must be treated as "key unresolved"; verification
// fails closed.
type KeyResolver interface {
	ResolveKey(ctx context.Context, subscriberID, ukID string) (ed25519.PublicKey, error)
	Invalidate(subscriberID, ukID string)
}

// ClockSkew is the tolerance applied to the signature validity window.
const ClockSkew = 300 * time.Second

// Verifier validates inbound signed requests against registry-resolved
// public keys.
type Verifier struct {
	resolver KeyResolver
	skew     time.Duration

	now func() time.Time
}

// NewVerifier builds a Verifier backed by the given key resolver.
func NewVerifier(resolver KeyResolver) *Verifier {
	return &Verifier{
		resolver: resolver,
		skew:     ClockSkew,
		now:      time.Now,
	}
}

// Verify validates rawBody against the Authorization header value and
// returns the verified subscriber ID. The checks run in a fixed order and
// short-circuit on the first failure:
//
//  1. header present
//  2. header parses, covered fields and algorithm match
//  3. validity window holds within clock skew
//  4. keyId well-formed
//  5. subscriber key resolves via the registry
//  6. digest recomputes to the header's digest
//  7. ed25519 signature over the digest verifies
//
// On a signature failure the cached key is invalidated and resolved once
// more before rejecting, so a rotated key does not strand a valid sender.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, header string) (string, error) {
	if header == "" {
		return "", reject(RejectMissingHeader, nil)
	}

	cred, err := ParseAuthHeader(header)
	if err != nil {
		return "", reject(RejectMalformedHeader, err)
	}
	if cred.Headers != CoveredHeaders {
		return "", reject(RejectMalformedHeader, fmt.Errorf("unexpected covered fields %q", cred.Headers))
	}
	if cred.Algorithm != AlgorithmEd25519 {
		return "", reject(RejectMalformedHeader, fmt.Errorf("unsupported algorithm %q", cred.Algorithm))
	}

	now := v.now().Unix()
	skew := int64(v.skew / time.Second)
	if now > cred.Expires+skew {
		return "", reject(RejectExpired, fmt.Errorf("signature expired at %d", cred.Expires))
	}
	if cred.Created > now+skew {
		return "", reject(RejectExpired, fmt.Errorf("signature created in the future at %d", cred.Created))
	}

	if cred.SubscriberID == "" || cred.UKID == "" {
		return "", reject(RejectMalformedKeyID, nil)
	}

	publicKey, err := v.resolver.ResolveKey(ctx, cred.SubscriberID, cred.UKID)
	if err != nil {
		return "", reject(RejectUnknownSubscriber, err)
	}

	digest := Digest(rawBody)
	// Content-integrity check, not a secret compare; constant time is not
	// required here.
	if cred.Digest != base64.StdEncoding.EncodeToString(digest) {
		return "", reject(RejectDigestMismatch, nil)
	}

	signature, err := base64.StdEncoding.DecodeString(cred.Signature)
	if err != nil {
		return "", reject(RejectSignatureInvalid, err)
	}

	if !ed25519.Verify(publicKey, digest, signature) {
		// Rule out a rotated key before rejecting.
		v.resolver.Invalidate(cred.SubscriberID, cred.UKID)
		publicKey, err = v.resolver.ResolveKey(ctx, cred.SubscriberID, cred.UKID)
		if err != nil {
			return "", reject(RejectUnknownSubscriber, err)
		}
		if !ed25519.Verify(publicKey, digest, signature) {
			return "", reject(RejectSignatureInvalid, nil)
		}
	}

	return cred.SubscriberID, nil
}
