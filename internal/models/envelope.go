package models

import "encoding/json"

// Context is the envelope context carried by every protocol message.
// Only the fields the gateway itself needs are modeled; the message
// payload stays raw so the signed bytes are never re-serialized.
type Context struct {
	Domain        string `json:"domain,omitempty"`
	Country       string `json:"country,omitempty"`
	City          string `json:"city,omitempty"`
	Action        string `json:"action,omitempty"`
	CoreVersion   string `json:"core_version,omitempty"`
	TransactionID string `json:"transaction_id"`
	MessageID     string `json:"message_id"`
	BapID         string `json:"bap_id,omitempty"`
	BapURI        string `json:"bap_uri,omitempty"`
	BppID         string `json:"bpp_id,omitempty"`
	BppURI        string `json:"bpp_uri,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	TTL           string `json:"ttl,omitempty"`
}

// Envelope is the minimal parse of an inbound protocol message: the
// context plus the untouched raw message body.
type Envelope struct {
	Context Context         `json:"context"`
	Message json.RawMessage `json:"message,omitempty"`
}

// ParseEnvelope extracts the envelope context from raw body bytes.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// AckStatus is the protocol-level acknowledgment status.
type AckStatus string

const (
	StatusAck  AckStatus = "ACK"
	StatusNack AckStatus = "NACK"
)

// Error is the protocol error block attached to a NACK.
type Error struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// AckResponse is the synchronous acknowledgment envelope:
// { "message": { "ack": { "status": "ACK"|"NACK" } }, "error": {...} }
type AckResponse struct {
	Message AckMessage `json:"message"`
	Error   *Error     `json:"error,omitempty"`
}

type AckMessage struct {
	Ack Ack `json:"ack"`
}

type Ack struct {
	Status AckStatus `json:"status"`
}

// NewAck returns a positive acknowledgment envelope.
func NewAck() AckResponse {
	return AckResponse{Message: AckMessage{Ack: Ack{Status: StatusAck}}}
}

// NewNack returns a negative acknowledgment envelope with the given error.
func NewNack(errType, code, message string) AckResponse {
	return AckResponse{
		Message: AckMessage{Ack: Ack{Status: StatusNack}},
		Error:   &Error{Type: errType, Code: code, Message: message},
	}
}
