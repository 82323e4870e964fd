// Package auth guards the journal API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tokenflow/pkg/logger"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Guard checks requests against a configured token. A Guard with an empty
// token lets every request through.
type Guard struct {
	token []byte
	audit *slog.Logger
}

// NewGuard builds a Guard for token.
func NewGuard(token string) *Guard {
	return &Guard{token: []byte(strings.TrimSpace(token)), audit: logger.Named("audit")}
}

// Enabled reports whether requests need a token.
func (g *Guard) Enabled() bool {
	return g != nil && len(g.token) > 0
}

// Authenticate checks an Authorization header value.
func (g *Guard) Authenticate(header string) error {
	if !g.Enabled() {
		return nil
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), g.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401 and writes an audit
// line for every request.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Authenticate(r.Header.Get("Authorization")); err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			g.audit.Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("error", err.Error()))
			return
		}
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		g.audit.Info("api_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

// auditWriter captures the response status.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
