package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorBody is the wire shape of every error response. RetryAfterMs is
// only set on rate-limit denials.
type ErrorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// JSONError writes a plain error envelope with the given status.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSONErrorBody(w, status, ErrorBody{Error: message})
}

// JSONErrorBody writes the error envelope. When the body carries a retry
// hint it is mirrored into a Retry-After header, rounded up to whole
// seconds, so plain HTTP clients can honor it too.
func JSONErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	if body.RetryAfterMs > 0 {
		secs := (body.RetryAfterMs + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
