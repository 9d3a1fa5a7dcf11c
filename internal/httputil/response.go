package httputil

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/bizmesh/beckn-gateway/internal/models"
)

// WriteJSON writes a JSON response with the given status code and data.
// It properly checks for encoding errors and logs them.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteNack writes a negative protocol acknowledgment. Protocol-level
// rejections use HTTP 200; authentication failures use 401-class codes so
// they remain distinguishable from business NACKs.
func WriteNack(w http.ResponseWriter, status int, errType, code, message string) {
	WriteJSON(w, status, models.NewNack(errType, code, message))
}
