package httpx

import (
	"encoding/json"
	"net/http"
	"time"
)

type Middleware func(http.Handler) http.Handler

// Chain applies m outermost first, so Chain(h, a, b) serves a(b(h)). Nil
// entries are skipped, letting callers pass optional middleware inline.
func Chain(h http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			h = m[i](h)
		}
	}
	return h
}

// WithBodyLimit caps request bodies; a non-positive limit disables it.
func WithBodyLimit(limitBytes int64) Middleware {
	if limitBytes <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

var timeoutBody = mustErrorJSON("timeout", "request timed out")

// WithTimeout answers 503 with a JSON error once d elapses.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, timeoutBody)
	}
}

type errorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the {"code","message"} body the API uses for every
// refusal, so middleware rejections look like handler errors.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorJSON{Code: code, Message: message})
}

func mustErrorJSON(code, message string) string {
	b, err := json.Marshal(errorJSON{Code: code, Message: message})
	if err != nil {
		panic(err)
	}
	return string(b)
}
