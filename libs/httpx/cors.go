package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which browser origins may call the API.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// ReplayedHeader marks a response served from the idempotency cache.
const ReplayedHeader = "Idempotent-Replayed"

// defaultExposed lets browser clients read the request id and the replay marker.
var defaultExposed = []string{RequestIDHeader, ReplayedHeader, "Retry-After"}

// WithCORS answers preflights and decorates responses for allowed origins.
// With no allowed origins it returns nil, which Chain skips.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := map[string]struct{}{}
	wildcard := false
	for _, o := range cleanList(cfg.AllowedOrigins) {
		if o == "*" {
			wildcard = true
			continue
		}
		origins[strings.ToLower(o)] = struct{}{}
	}
	if len(origins) == 0 && !wildcard {
		return nil
	}

	exposed := cfg.ExposedHeaders
	if len(exposed) == 0 {
		exposed = defaultExposed
	}
	methods := strings.Join(cleanList(cfg.AllowedMethods), ", ")
	headers := strings.Join(cleanList(cfg.AllowedHeaders), ", ")
	expose := strings.Join(cleanList(exposed), ", ")
	maxAge := ""
	if s := int(cfg.MaxAge.Seconds()); s > 0 {
		maxAge = strconv.Itoa(s)
	}

	allowed := func(origin string) (string, bool) {
		if _, ok := origins[strings.ToLower(origin)]; ok {
			return origin, true
		}
		if wildcard {
			// A credentialed response may not use "*", so echo the origin.
			if cfg.AllowCredentials {
				return origin, true
			}
			return "*", true
		}
		return "", false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			allowOrigin, ok := allowed(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowOrigin)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if expose != "" {
				h.Set("Access-Control-Expose-Headers", expose)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
