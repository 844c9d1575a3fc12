package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// CachedResponse is returned for a cache hit
type CachedResponse struct {
	Data        interface{} `json:"data"`
	Cached      bool        `json:"cached"`
	Stale       bool        `json:"stale,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
}

// ProcessingResponse is returned while a recompute is running
type ProcessingResponse struct {
	Status     string `json:"status"`
	RetryAfter int    `json:"retryAfter"` // Seconds
}

// ErrorResponse is the JSON body of every error
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("Failed to encode response", logger.ErrorField(err))
	}
}
