// Package actor carries the pre-authorized caller through a request.
package actor

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotledger/libs/auth"
	"github.com/md-rashed-zaman/slotledger/libs/httpx"
)

type Capability string

// BookForOthers lets a staff member act on another staff member's schedule.
const BookForOthers Capability = "appointments:book_for_others"

// elevatedRoles hold every capability.
var elevatedRoles = map[string]struct{}{"owner": {}, "admin": {}, "manager": {}}

type Actor struct {
	StaffID string
	Role    string
	Scopes  []string
}

func (a Actor) Can(c Capability) bool {
	if _, ok := elevatedRoles[a.Role]; ok {
		return true
	}
	claims := auth.Claims{Scopes: a.Scopes}
	return claims.HasScope(string(c))
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok && a.StaffID != ""
}

// Middleware resolves the actor from a bearer token, or from the gateway's
// X-User-Id / X-Role / X-Scopes headers when trustHeaders is set, and
// records the staff id as the request's subject. Requests without an actor
// are rejected with 401.
func Middleware(verifier *auth.Verifier, trustHeaders bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, status := resolve(r, verifier, trustHeaders)
			if status != 0 {
				httpx.WriteError(w, status, "unauthorized", "missing or invalid credentials")
				return
			}
			httpx.SetSubject(r.Context(), a.StaffID)
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
		})
	}
}

func resolve(r *http.Request, verifier *auth.Verifier, trustHeaders bool) (Actor, int) {
	if header := r.Header.Get("Authorization"); header != "" && verifier != nil {
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return Actor{}, http.StatusUnauthorized
		}
		claims, err := verifier.Verify(r.Context(), token)
		if err != nil || claims.Sub == "" {
			return Actor{}, http.StatusUnauthorized
		}
		return Actor{StaffID: claims.Sub, Role: claims.Role, Scopes: claims.Scopes}, 0
	}
	if trustHeaders {
		if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
			return Actor{
				StaffID: id,
				Role:    strings.TrimSpace(r.Header.Get("X-Role")),
				Scopes:  splitScopes(r.Header.Get("X-Scopes")),
			}, 0
		}
	}
	return Actor{}, http.StatusUnauthorized
}

func splitScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
