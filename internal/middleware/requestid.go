package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID between network participants.
// Counterparties that propagate it let one protocol exchange be traced
// across gateway boundaries.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey = contextKey("request-id")

// RequestID propagates the caller's request ID, minting a UUID when the
// caller sent none. The ID is echoed on the response and stored in the
// request context, where the logging layer picks it up for every line
// emitted while handling the message.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// GetRequestID returns the request ID stored by RequestID, or "" when the
// context never passed through the middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
