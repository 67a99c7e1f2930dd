package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// ErrRequestInFlight is returned by Reserve while another request holds the key.
var ErrRequestInFlight = errors.New("idempotent request in flight")

// CachedResponse is a completed response kept for Idempotency-Key replay.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore reserves keys and stores finished responses.
// Reserve returns (nil, nil) when the caller now owns the key, a cached
// response when the key already completed, or ErrRequestInFlight.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (*CachedResponse, error)
	Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// WithIdempotency replays the first completed response for a repeated
// Idempotency-Key on POST requests. Keys are scoped to the caller's subject
// and the path, so two callers never share a cached response. 5xx responses
// release the key so the client can retry. Store failures are logged and the
// request proceeds.
func WithIdempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) Middleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if raw == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > 200 {
				WriteError(w, http.StatusBadRequest, "validation_failed", "idempotency key too long")
				return
			}
			key := IdempotencyScope(r) + ":" + raw

			cached, err := store.Reserve(r.Context(), key, ttl)
			switch {
			case errors.Is(err, ErrRequestInFlight):
				WriteError(w, http.StatusConflict, "request_in_flight", "request with this idempotency key is in progress")
				return
			case err != nil:
				if logger != nil {
					logger.Warn("idempotency store unavailable", "err", err)
				}
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				Annotate(r.Context(), "idempotent_replay", "true")
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &recordingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Persist with a context detached from the request so a disconnecting
			// client does not leave the key reserved.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
			defer cancel()
			status := rec.statusCode()
			if status >= http.StatusInternalServerError {
				err = store.Release(ctx, key)
			} else {
				err = store.Complete(ctx, key, CachedResponse{
					Status:      status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, ttl)
			}
			if err != nil && logger != nil {
				logger.Warn("idempotency store write failed", "err", err)
			}
		})
	}
}

// IdempotencyScope is the prefix of a replay key: the caller's subject (or
// "anon") and the request path.
func IdempotencyScope(r *http.Request) string {
	subject := SubjectFromContext(r.Context())
	if subject == "" {
		subject = "anon"
	}
	return subject + ":" + r.URL.Path
}

type recordingResponseWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *recordingResponseWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RedisIdempotencyStore keeps reservations and responses under prefix:key.
type RedisIdempotencyStore struct {
	rdb    *redis.Client
	prefix string
}

const pendingMarker = "__pending__"

func NewRedisIdempotencyStore(rdb *redis.Client, prefix string) *RedisIdempotencyStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "idem"
	}
	return &RedisIdempotencyStore{rdb: rdb, prefix: prefix}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (*CachedResponse, error) {
	k := s.prefix + ":" + key
	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in flight and let the client retry.
		return nil, ErrRequestInFlight
	}
	if err != nil {
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrRequestInFlight
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+":"+key, raw, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+":"+key).Err()
}

// MemoryIdempotencyStore is a single-process IdempotencyStore for dev mode.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	resp    *CachedResponse
	expires time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (*CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.resp == nil {
			return nil, ErrRequestInFlight
		}
		cp := *e.resp
		return &cp, nil
	}
	s.entries[key] = memoryEntry{expires: now.Add(ttl)}
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: &resp, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
