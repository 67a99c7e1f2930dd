package httpx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
)

const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// Scope is the per-request record shared by the middleware chain and the
// handlers. Inner layers fill in the caller and log fields; outer layers
// (access log, rate limit, idempotency) read them.
type Scope struct {
	RequestID string

	mu      sync.Mutex
	subject string
	attrs   []slog.Attr
}

// SetSubject records the authenticated caller, e.g. a staff member id.
func (s *Scope) SetSubject(subject string) {
	s.mu.Lock()
	s.subject = subject
	s.mu.Unlock()
}

func (s *Scope) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// Annotate adds a field to the request's access log line. A repeated key
// replaces the earlier value.
func (s *Scope) Annotate(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.StringValue(value)
			return
		}
	}
	s.attrs = append(s.attrs, slog.String(key, value))
}

func (s *Scope) snapshot() (string, []slog.Attr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject, append([]slog.Attr(nil), s.attrs...)
}

func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(ctxKey{}).(*Scope)
	return s
}

// ContextWithRequestID starts a scope for id outside of HTTP, e.g. for a
// gRPC call.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, &Scope{RequestID: id})
}

func RequestIDFromContext(ctx context.Context) string {
	if s := ScopeFromContext(ctx); s != nil {
		return s.RequestID
	}
	return ""
}

func SubjectFromContext(ctx context.Context) string {
	if s := ScopeFromContext(ctx); s != nil {
		return s.Subject()
	}
	return ""
}

// SetSubject is a no-op when ctx carries no scope.
func SetSubject(ctx context.Context, subject string) {
	if s := ScopeFromContext(ctx); s != nil {
		s.SetSubject(subject)
	}
}

// Annotate is a no-op when ctx carries no scope or value is empty.
func Annotate(ctx context.Context, key, value string) {
	if s := ScopeFromContext(ctx); s != nil && value != "" {
		s.Annotate(key, value)
	}
}

// WithRequestID opens the request scope. An incoming X-Request-Id is kept,
// otherwise a new id is generated; either way it is echoed back.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, &Scope{RequestID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
