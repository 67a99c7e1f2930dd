package actor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/auth"
	"github.com/md-rashed-zaman/slotledger/libs/httpx"
)

func TestCan(t *testing.T) {
	if (Actor{StaffID: "s", Role: "staff"}).Can(BookForOthers) {
		t.Fatal("plain staff must not book for others")
	}
	if !(Actor{StaffID: "s", Role: "manager"}).Can(BookForOthers) {
		t.Fatal("manager must hold every capability")
	}
	if !(Actor{StaffID: "s", Role: "staff", Scopes: []string{string(BookForOthers)}}).Can(BookForOthers) {
		t.Fatal("explicit scope must grant the capability")
	}
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (int, Actor) {
	t.Helper()
	var got Actor
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	return rw.Code, got
}

func TestMiddlewareBearerToken(t *testing.T) {
	verifier := &auth.Verifier{Secret: "test-secret"}
	token, err := auth.SignHS256(auth.Claims{Sub: "staff-1", Role: "staff", Exp: time.Now().Add(time.Hour).Unix()}, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, a := serve(t, Middleware(verifier, false), req)
	if code != http.StatusOK || a.StaffID != "staff-1" {
		t.Fatalf("expected staff-1, got %d %+v", code, a)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	bad.Header.Set("Authorization", "Bearer nope")
	if code, _ := serve(t, Middleware(verifier, true), bad); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
}

func TestMiddlewareGatewayHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set("X-User-Id", "staff-2")
	req.Header.Set("X-Role", "staff")
	req.Header.Set("X-Scopes", "appointments:book_for_others, other")

	code, a := serve(t, Middleware(nil, true), req)
	if code != http.StatusOK || a.StaffID != "staff-2" || !a.Can(BookForOthers) {
		t.Fatalf("unexpected actor %d %+v", code, a)
	}
	if code, _ := serve(t, Middleware(nil, false), req); code != http.StatusUnauthorized {
		t.Fatalf("untrusted headers must be ignored, got %d", code)
	}
}

func TestMiddlewareRecordsSubject(t *testing.T) {
	var subject string
	h := httpx.WithRequestID(Middleware(nil, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = httpx.SubjectFromContext(r.Context())
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("X-User-Id", "staff-9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if subject != "staff-9" {
		t.Fatalf("subject = %q, want staff-9", subject)
	}
}
