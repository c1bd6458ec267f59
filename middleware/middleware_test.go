package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	token string
}

func (s stubValidator) ValidateAccess(token string) (*jwt.Claims, error) {
	if token != s.token {
		return nil, errors.New("bad token")
	}
	claims := &jwt.Claims{Email: "a@example.com"}
	claims.Subject = "user-1"
	return claims, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer abc", want: "abc", ok: true},
		{header: "Bearer ", ok: false},
		{header: "Basic abc", ok: false},
		{header: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestRequireBearer(t *testing.T) {
	var seen *jwt.Claims
	handler := RequireBearer(stubValidator{token: "good"}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)

	for _, header := range []string{"", "Bearer bad"} {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestRequireBearerCustomReject(t *testing.T) {
	var gotErr error
	called := false
	handler := RequireBearer(stubValidator{token: "good"}, func(w http.ResponseWriter, _ *http.Request, err error) {
		called = true
		gotErr = err
		w.WriteHeader(http.StatusTeapot)
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Error(t, gotErr)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestThrottleRejectsOverLimit(t *testing.T) {
	th := NewThrottle(1, 1, nil)
	handler := th.Middleware(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestThrottleSeparatesAddresses(t *testing.T) {
	th := NewThrottle(1, 1, nil)
	handler := th.Middleware(okHandler())

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, addr)
	}
}

func TestThrottleSweep(t *testing.T) {
	now := time.Now()
	th := NewThrottle(1, 1, nil)
	th.now = func() time.Time { return now }

	handler := th.Middleware(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 0, th.Sweep(time.Minute))
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, th.Sweep(time.Minute))
}

func TestRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var gotIP, gotID string
	var gotLogger *slog.Logger
	handler := RequestContext(logger, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIP(r)
		gotID = RequestID(r)
		gotLogger = logging.FromContext(r.Context(), nil)
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.5", gotIP)
	assert.Equal(t, "req-42", gotID)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.NotSame(t, logger, gotLogger)
	assert.True(t, strings.Contains(buf.String(), `"status":201`), buf.String())
	assert.True(t, strings.Contains(buf.String(), `"request_id":"req-42"`), buf.String())
}

func TestRequestContextIgnoresForwardedWithoutTrust(t *testing.T) {
	var gotIP string
	handler := RequestContext(logging.Discard(), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "198.51.100.4", gotIP)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
