package signing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// AlgorithmEd25519 is the only signing scheme the protocol supports.
	AlgorithmEd25519 = "ed25519"

	// CoveredHeaders is the fixed list of signature-covered fields. A
	// header declaring anything else fails verification closed.
	CoveredHeaders = "(created) (expires) digest"

	headerScheme = "Signature "
)

// Credential is the parsed or constructed form of the Authorization header:
//
//	Signature keyId="<subscriberId>|<ukId>|<algorithm>",algorithm="...",
//	created="...",expires="...",headers="(created) (expires) digest",
//	signature="<base64>",digest="<base64>"
type Credential struct {
	SubscriberID string
	UKID         string
	Algorithm    string
	Created      int64
	Expires      int64
	Headers      string
	Signature    string
	Digest       string
}

// KeyID renders the composite key identifier.
func (c *Credential) KeyID() string {
	return c.SubscriberID + "|" + c.UKID + "|" + c.Algorithm
}

// BuildAuthHeader renders the credential in the protocol's fixed field
// order. Values are wrapped in double quotes with no further escaping.
func BuildAuthHeader(c *Credential) string {
	return fmt.Sprintf(
		`Signature keyId="%s",algorithm="%s",created="%d",expires="%d",headers="%s",signature="%s",digest="%s"`,
		c.KeyID(), c.Algorithm, c.Created, c.Expires, c.Headers, c.Signature, c.Digest,
	)
}

var headerParamPattern = regexp.MustCompile(`([A-Za-z0-9_]+)="([^"]*)"`)

// ErrMalformedHeader is returned for any header that cannot be parsed into
// a fully-populated credential. Partial results are never returned.
var ErrMalformedHeader = fmt.Errorf("malformed authorization header")

// ParseAuthHeader parses an Authorization header value into a Credential.
// Only the "Signature" scheme is accepted; parameter order is not
// significant. keyId, signature, algorithm and digest are required, and
// keyId must split into exactly subscriberId|ukId|algorithm.
func ParseAuthHeader(header string) (*Credential, error) {
	if !strings.HasPrefix(header, headerScheme) {
		return nil, ErrMalformedHeader
	}

	params := make(map[string]string)
	for _, m := range headerParamPattern.FindAllStringSubmatch(header[len(headerScheme):], -1) {
		params[m[1]] = m[2]
	}

	for _, required := range []string{"keyId", "signature", "algorithm", "digest"} {
		if params[required] == "" {
			return nil, ErrMalformedHeader
		}
	}

	parts := strings.Split(params["keyId"], "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedHeader
	}

	created, err := strconv.ParseInt(params["created"], 10, 64)
	if err != nil {
		return nil, ErrMalformedHeader
	}
	expires, err := strconv.ParseInt(params["expires"], 10, 64)
	if err != nil {
		return nil, ErrMalformedHeader
	}
	if created >= expires {
		return nil, ErrMalformedHeader
	}

	return &Credential{
		SubscriberID: parts[0],
		UKID:         parts[1],
		Algorithm:    parts[2],
		Created:      created,
		Expires:      expires,
		Headers:      params["headers"],
		Signature:    params["signature"],
		Digest:       params["digest"],
	}, nil
}
