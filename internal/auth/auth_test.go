package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	g := NewGuard("s3cret")

	cases := map[string]error{
		"":              ErrMissingToken,
		"Bearer s3cret": nil,
		"bearer s3cret": nil,
		"Bearer wrong":  ErrInvalidToken,
		"Basic s3cret":  ErrMissingToken,
		"Bearer":        ErrMissingToken,
		"s3cret":        ErrMissingToken,
	}
	for header, want := range cases {
		if err := g.Authenticate(header); !errors.Is(err, want) {
			t.Fatalf("header %q: got %v want %v", header, err, want)
		}
	}
}

func TestDisabledGuardAllowsEverything(t *testing.T) {
	g := NewGuard("  ")
	if g.Enabled() {
		t.Fatalf("blank token must disable the guard")
	}
	if err := g.Authenticate(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	g := NewGuard("s3cret")
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected %d, got %d", http.StatusTeapot, rec.Code)
	}
}
