package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"time"
)

// SignatureValidity is how long an outbound signature stays valid. Five
// minutes bounds replay exposure while tolerating clock skew and network
// latency.
const SignatureValidity = 300 * time.Second

// ErrNoPrivateKey indicates the gateway was started without a signing key.
// This is a configuration fault and is never retried.
var ErrNoPrivateKey = errors.New("signing private key not configured")

// Signer produces signed authorization headers for outbound requests
// using this subscriber's registered ed25519 key.
type Signer struct {
	privateKey   ed25519.PrivateKey
	subscriberID string
	ukID         string

	now func() time.Time
}

// NewSigner builds a Signer from a base64 raw ed25519 private key.
func NewSigner(encodedPrivateKey, subscriberID, ukID string) (*Signer, error) {
	if encodedPrivateKey == "" {
		return nil, ErrNoPrivateKey
	}
	key, err := ParsePrivateKey(encodedPrivateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{
		privateKey:   key,
		subscriberID: subscriberID,
		ukID:         ukID,
		now:          time.Now,
	}, nil
}

// SignedRequest carries everything needed to transmit a signed payload.
// Payload holds the exact bytes that were hashed; callers must send these
// bytes, not a re-serialized copy.
type SignedRequest struct {
	Payload    []byte
	AuthHeader string
	Digest     string
	Signature  string
}

// Sign computes the BLAKE2b-512 digest of payload, signs the digest with
// the subscriber's private key, and renders the authorization header. The
// signature covers the fixed-size digest rather than the payload itself.
func (s *Signer) Sign(payload []byte) (*SignedRequest, error) {
	if s == nil || len(s.privateKey) == 0 {
		return nil, ErrNoPrivateKey
	}

	digest := Digest(payload)
	signature := ed25519.Sign(s.privateKey, digest)

	created := s.now().Unix()
	cred := &Credential{
		SubscriberID: s.subscriberID,
		UKID:         s.ukID,
		Algorithm:    AlgorithmEd25519,
		Created:      created,
		Expires:      created + int64(SignatureValidity/time.Second),
		Headers:      CoveredHeaders,
		Signature:    base64.StdEncoding.EncodeToString(signature),
		Digest:       base64.StdEncoding.EncodeToString(digest),
	}

	return &SignedRequest{
		Payload:    payload,
		AuthHeader: BuildAuthHeader(cred),
		Digest:     cred.Digest,
		Signature:  cred.Signature,
	}, nil
}
