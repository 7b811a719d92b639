package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "wellness",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopePlansRead, ScopePlansWrite},
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: "wellness"})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopePlansRead))
	require.True(t, claims.HasScope(ScopePlansWrite))
	require.False(t, claims.HasScope(ScopeProgressWrite))
}

func TestParseAcceptsSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "wellness",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "plans:read progress:write",
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: "wellness"})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopePlansRead))
	require.True(t, claims.HasScope(ScopeProgressWrite))
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: "wellness"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "wellness",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: "wellness"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss": "wellness",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: "wellness"})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsEmptyToken(t *testing.T) {
	_, err := Parse("  ", Config{Secret: testSecret, Issuer: "wellness"})
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    "wellness",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopePlansRead},
	})

	var got *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	})
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: "wellness"})

	req := httptest.NewRequest(http.MethodGet, "/v1/schedule", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rw := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.NotNil(t, got)
	require.Equal(t, "user-1", got.Subject)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: "wellness"})
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/schedule", nil)
	rw := httptest.NewRecorder()
	mw.Wrap(next).ServeHTTP(rw, req)

	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestMiddlewareExemptsHealthAndMetrics(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: "wellness"})
	calls := 0
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ })

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rw := httptest.NewRecorder()
		mw.Wrap(next).ServeHTTP(rw, req)
		require.Equal(t, http.StatusOK, rw.Code)
	}
	require.Equal(t, 2, calls)
}
