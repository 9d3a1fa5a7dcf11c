package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/metrics"
	"github.com/bizmesh/beckn-gateway/internal/signing"
)

// ErrNotFound means the subscriber key could not be resolved. Remote
// failures, timeouts and ambiguous results all collapse into this error:
// an unresolved key never falls back to a stale or default key.
var ErrNotFound = errors.New("subscriber not found in registry")

// Subscriber is a network participant identity as returned by the
// registry. Cached values are immutable; a refresh stores a new value.
type Subscriber struct {
	SubscriberID     string `json:"subscriber_id"`
	UKID             string `json:"ukId"`
	SubscriberURL    string `json:"subscriber_url,omitempty"`
	Type             string `json:"type,omitempty"`
	Domain           string `json:"domain,omitempty"`
	SigningPublicKey string `json:"signing_public_key"`

	publicKey ed25519.PublicKey
	FetchedAt time.Time `json:"-"`
}

// PublicKey returns the parsed ed25519 signing key.
func (s *Subscriber) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// LookupFilter carries the static filters sent with every lookup call.
type LookupFilter struct {
	Domain  string
	Country string
	City    string
	Type    string
}

// Config configures the registry client.
type Config struct {
	URL           string
	LookupTimeout time.Duration
	CacheTTL      time.Duration
	SweepInterval time.Duration
	Filter        LookupFilter
}

// Client resolves subscriber signing keys through the network registry
// with a TTL cache in front. Concurrent lookups for the same key are
// collapsed into a single remote call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	filter     LookupFilter
	cache      *cache
	group      singleflight.Group
	signer     *signing.Signer
}

// New creates a registry client. signer may be nil; it is only needed for
// the signed VLookup operation.
func New(cfg Config, signer *signing.Signer) *Client {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		filter: cfg.Filter,
		cache:  newCache(ttl, cfg.SweepInterval),
		signer: signer,
	}
}

type lookupRequest struct {
	SubscriberID string `json:"subscriber_id"`
	UKID         string `json:"ukId"`
	Domain       string `json:"domain,omitempty"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Type         string `json:"type,omitempty"`
}

// Lookup resolves (subscriberID, ukID) to a Subscriber. Cache hits are
// served directly; misses perform one remote call shared across
// concurrent callers for the same key.
func (c *Client) Lookup(ctx context.Context, subscriberID, ukID string) (*Subscriber, error) {
	if sub := c.cache.get(subscriberID, ukID); sub != nil {
		metrics.RegistryCacheHits.Inc()
		return sub, nil
	}
	metrics.RegistryCacheMisses.Inc()

	result, err, _ := c.group.Do(cacheKey(subscriberID, ukID), func() (interface{}, error) {
		return c.lookupRemote(ctx, subscriberID, ukID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Subscriber), nil
}

func (c *Client) lookupRemote(ctx context.Context, subscriberID, ukID string) (*Subscriber, error) {
	start := time.Now()

	body, err := json.Marshal(lookupRequest{
		SubscriberID: subscriberID,
		UKID:         ukID,
		Domain:       c.filter.Domain,
		Country:      c.filter.Country,
		City:         c.filter.City,
		Type:         c.filter.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		metrics.RegistryLookups.WithLabelValues("error").Inc()
		slog.Warn("registry lookup failed",
			logging.SubscriberID(subscriberID),
			logging.UKID(ukID),
			logging.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer resp.Body.Close()
	metrics.RegistryLookupDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		metrics.RegistryLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: registry status %d", ErrNotFound, resp.StatusCode)
	}

	var entries []Subscriber
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		metrics.RegistryLookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: decode response: %v", ErrNotFound, err)
	}

	for i := range entries {
		if entries[i].UKID != ukID {
			continue
		}
		sub := entries[i]
		sub.publicKey, err = signing.ParsePublicKey(sub.SigningPublicKey)
		if err != nil {
			metrics.RegistryLookups.WithLabelValues("invalid_key").Inc()
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		sub.FetchedAt = time.Now()

		c.cache.set(subscriberID, ukID, &sub)
		metrics.RegistryLookups.WithLabelValues("ok").Inc()
		return &sub, nil
	}

	metrics.RegistryLookups.WithLabelValues("miss").Inc()
	slog.Warn("subscriber ukId not present in registry response",
		logging.SubscriberID(subscriberID),
		logging.UKID(ukID),
	)
	return nil, ErrNotFound
}

// ResolveKey implements signing.KeyResolver.
func (c *Client) ResolveKey(ctx context.Context, subscriberID, ukID string) (ed25519.PublicKey, error) {
	sub, err := c.Lookup(ctx, subscriberID, ukID)
	if err != nil {
		return nil, err
	}
	return sub.publicKey, nil
}

// Invalidate evicts a cached subscriber, forcing the next lookup to hit
// the registry. Used after a signature failure to rule out a rotated key.
func (c *Client) Invalidate(subscriberID, ukID string) {
	c.cache.delete(subscriberID, ukID)
}

type vlookupRequest struct {
	SenderSubscriberID string           `json:"sender_subscriber_id"`
	RequestID          string           `json:"request_id"`
	Timestamp          string           `json:"timestamp"`
	Signature          string           `json:"signature,omitempty"`
	SearchParameters   searchParameters `json:"search_parameters"`
}

type searchParameters struct {
	Domain       string `json:"domain,omitempty"`
	SubscriberID string `json:"subscriber_id"`
	Country      string `json:"country,omitempty"`
	Type         string `json:"type,omitempty"`
	City         string `json:"city,omitempty"`
}

type vlookupResponse struct {
	Subscriber *Subscriber `json:"subscriber"`
}

// VLookup performs a sender-signed registry lookup for a subscriber.
// Requires a configured signer.
func (c *Client) VLookup(ctx context.Context, senderID, subscriberID string) (*Subscriber, error) {
	if c.signer == nil {
		return nil, signing.ErrNoPrivateKey
	}

	params := searchParameters{
		Domain:       c.filter.Domain,
		SubscriberID: subscriberID,
		Country:      c.filter.Country,
		Type:         c.filter.Type,
		City:         c.filter.City,
	}
	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal search parameters: %w", err)
	}
	signed, err := c.signer.Sign(paramBytes)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(vlookupRequest{
		SenderSubscriberID: senderID,
		RequestID:          uuid.New().String(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		Signature:          signed.Signature,
		SearchParameters:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal vlookup request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vlookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build vlookup request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry status %d", ErrNotFound, resp.StatusCode)
	}

	var result vlookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrNotFound, err)
	}
	if result.Subscriber == nil {
		return nil, ErrNotFound
	}
	return result.Subscriber, nil
}

// Close stops the cache sweep goroutine.
func (c *Client) Close() {
	c.cache.close()
}
