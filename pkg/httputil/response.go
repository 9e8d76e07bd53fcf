package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Response header names stamped by the guard pipeline
const (
	HeaderRequestID          = "X-Request-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every error produced by the pipeline
type ErrorResponse struct {
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id"`
	Details   interface{} `json:"details,omitempty"`
}

// WriteError writes an ErrorResponse with the given status code
func WriteError(w http.ResponseWriter, status int, body ErrorResponse) {
	_ = WriteJSON(w, status, body)
}

// WriteErrorMessage writes a plain error body for routes outside the pipeline
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, map[string]string{"error": message})
}

// RateLimitInfo is the header view of a rate-limit decision
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// SetRateLimitHeaders stamps the X-RateLimit-* headers, and Retry-After when RetryAfter > 0.
// Reset is expressed in unix seconds; Retry-After in whole seconds rounded up.
func SetRateLimitHeaders(w http.ResponseWriter, info RateLimitInfo) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(info.ResetAt.Unix(), 10))
	SetRetryAfter(w, info.RetryAfter)
}

// SetRetryAfter sets Retry-After in whole seconds, rounded up. It does nothing for d <= 0.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d > 0 {
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}
}
