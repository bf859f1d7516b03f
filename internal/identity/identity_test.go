package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens(secret, time.Hour)
	tok, err := tokens.Issue(42, "ada@example.com")
	require.NoError(t, err)

	claims, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Claims{UserID: 42, Email: "ada@example.com"}, claims)
}

func TestTokens_Rejects(t *testing.T) {
	tokens := NewTokens(secret, time.Hour)

	other, err := NewTokens([]byte("other"), time.Hour).Issue(1, "x")
	require.NoError(t, err)
	_, err = tokens.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewTokens(secret, -time.Minute).Issue(1, "x")
	require.NoError(t, err)
	_, err = tokens.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = tokens.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	s, err := noSub.SignedString(secret)
	require.NoError(t, err)
	_, err = tokens.Verify(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "hunter2"))
}

func TestRequireUser(t *testing.T) {
	tokens := NewTokens(secret, time.Hour)
	var seen int64
	h := RequireUser(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Not authenticated"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "bogus"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid token"}`, rec.Body.String())

	tok, err := tokens.Issue(7, "a@b.c")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), seen)
}

func TestSessionCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "abc", 7*24*time.Hour, true)
	c := rec.Result().Cookies()
	require.Len(t, c, 1)
	assert.Equal(t, CookieName, c[0].Name)
	assert.Equal(t, "abc", c[0].Value)
	assert.True(t, c[0].HttpOnly)
	assert.False(t, c[0].Secure)
	assert.Equal(t, 7*24*3600, c[0].MaxAge)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, false)
	c = rec.Result().Cookies()
	require.Len(t, c, 1)
	assert.Equal(t, "", c[0].Value)
	assert.True(t, c[0].Secure)
	assert.Less(t, c[0].MaxAge, 0)
}

func TestSupportSessionID(t *testing.T) {
	assert.Equal(t, "sess-123", SupportSessionID(" sess-123 "))

	fresh := SupportSessionID("")
	assert.Len(t, fresh, 36)
	assert.NotEqual(t, fresh, SupportSessionID(""))

	assert.NotEqual(t, "bad id with spaces", SupportSessionID("bad id with spaces"))
}
