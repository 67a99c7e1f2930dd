package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter admits or refuses one request for key within its window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

type RateLimitOptions struct {
	Logger *slog.Logger
	// FailOpen lets requests through when the limiter itself errors.
	FailOpen bool
	// Key defaults to CallerKey.
	Key func(*http.Request) string
}

// RateLimit refuses requests over the limiter's budget with 429 and a
// Retry-After of one window.
func RateLimit(l Limiter, opts RateLimitOptions) Middleware {
	if l == nil {
		return nil
	}
	key := opts.Key
	if key == nil {
		key = CallerKey
	}
	retryAfter := strconv.Itoa(int(l.Window().Round(time.Second).Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), key(r))
			if err != nil {
				if opts.Logger != nil {
					opts.Logger.Warn("rate limiter error", "err", err, "request_id", RequestIDFromContext(r.Context()))
				}
				if !opts.FailOpen {
					WriteError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter unavailable")
					return
				}
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", retryAfter)
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerKey budgets authenticated requests per subject and anonymous ones
// (webhooks, probes) per client address.
func CallerKey(r *http.Request) string {
	if subject := SubjectFromContext(r.Context()); subject != "" {
		return "sub:" + subject
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// MemoryLimiter is a fixed-window Limiter for a single instance. Expired
// windows are swept at most once per window.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*fixedWindow
	nextSweep time.Time
}

type fixedWindow struct {
	count int
	reset time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, windows: map[string]*fixedWindow{}}
}

func (l *MemoryLimiter) Window() time.Duration { return l.window }

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		for k, fw := range l.windows {
			if now.After(fw.reset) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	fw := l.windows[key]
	if fw == nil || now.After(fw.reset) {
		l.windows[key] = &fixedWindow{count: 1, reset: now.Add(l.window)}
		return true, nil
	}
	if fw.count >= l.limit {
		return false, nil
	}
	fw.count++
	return true, nil
}

// Tracked reports how many keys currently hold a window.
func (l *MemoryLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
