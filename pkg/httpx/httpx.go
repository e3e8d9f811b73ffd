// Package httpx holds the JSON plumbing shared by the registry's HTTP
// handlers.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id set by Middleware.
const RequestIDHeader = "X-Request-Id"

func NewRequestID() string { return "req_" + uuid.NewString() }

// Middleware tags every response with a request id for log correlation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// WriteError writes the registry's error body: a human message under "error"
// plus the machine code.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]any{"error": message, "code": code})
}
