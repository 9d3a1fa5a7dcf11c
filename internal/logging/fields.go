package logging

import "log/slog"

// Common field names for consistent logging across the gateway.
const (
	FieldService       = "service"
	FieldTransactionID = "transaction_id"
	FieldMessageID     = "message_id"
	FieldSubscriberID  = "subscriber_id"
	FieldUKID          = "uk_id"
	FieldAction        = "action"
	FieldAttempt       = "attempt"
	FieldURL           = "url"
	FieldStatus        = "status"
	FieldError         = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// TransactionID returns a slog attribute for the protocol transaction ID.
func TransactionID(id string) slog.Attr {
	return slog.String(FieldTransactionID, id)
}

// MessageID returns a slog attribute for the protocol message ID.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// SubscriberID returns a slog attribute for a network subscriber ID.
func SubscriberID(id string) slog.Attr {
	return slog.String(FieldSubscriberID, id)
}

// UKID returns a slog attribute for a subscriber unique key ID.
func UKID(id string) slog.Attr {
	return slog.String(FieldUKID, id)
}

// Action returns a slog attribute for the protocol action.
func Action(action string) slog.Attr {
	return slog.String(FieldAction, action)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// URL returns a slog attribute for an outbound target URL.
func URL(url string) slog.Attr {
	return slog.String(FieldURL, url)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Error returns a slog attribute for an error value.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
