// Package identity provides account authentication primitives: session
// tokens, password hashing, the session cookie and request middleware.
package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName is the session cookie carrying the signed token.
	CookieName = "token"
)

type contextKey int

const (
	userIDKey contextKey = iota
	emailKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(userIDKey).(int64); ok {
		return v
	}
	return 0
}

// EmailFromContext extracts the authenticated email from the request context.
func EmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(emailKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying an authenticated principal.
func WithUser(ctx context.Context, userID int64, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}

// SetSessionCookie stores the token in an httpOnly cookie.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Authenticate verifies the request's session cookie. It returns
// ErrNoSession when the cookie is absent.
func Authenticate(r *http.Request, tokens *Tokens) (Claims, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Claims{}, ErrNoSession
	}
	return tokens.Verify(c.Value)
}

// RequireUser rejects requests without a valid session: 401 when no
// session cookie is present, 403 when the token does not verify.
func RequireUser(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(r, tokens)
			if errors.Is(err, ErrNoSession) {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if err != nil {
				writeError(w, http.StatusForbidden, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Email)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// SupportSessionID returns the client-supplied support session id when it
// is well formed, otherwise a fresh random one.
func SupportSessionID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "" && sessionIDPattern.MatchString(raw) {
		return raw
	}
	return uuid.NewString()
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
