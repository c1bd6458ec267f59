package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	err        error
	ident      *identity.Identity
	lastEmail  string
	lastToken  string
	lastStart  authcore.FederatedStartRequest
	lastCB     authcore.FederatedCallback
	validToken string
}

func newStubService() *stubService {
	return &stubService{
		ident: &identity.Identity{
			ID:        uuid.MustParse("6f1c1c36-6a54-4d4e-9d47-0c8a1a9d2f10"),
			Email:     "ann@example.com",
			Role:      identity.DefaultRole,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		validToken: "access-token",
	}
}

func (s *stubService) result() *authcore.AuthResult {
	return &authcore.AuthResult{
		Identity: s.ident,
		TokenPair: authcore.TokenPair{
			AccessToken:  s.validToken,
			RefreshToken: "sid.secret",
			TokenType:    authcore.TokenTypeBearer,
			ExpiresIn:    900,
		},
	}
}

func (s *stubService) Register(_ context.Context, email, _ string) (*authcore.AuthResult, error) {
	s.lastEmail = email
	if s.err != nil {
		return nil, s.err
	}
	return s.result(), nil
}

func (s *stubService) Login(_ context.Context, email, _ string) (*authcore.AuthResult, error) {
	s.lastEmail = email
	if s.err != nil {
		return nil, s.err
	}
	return s.result(), nil
}

func (s *stubService) Refresh(_ context.Context, token string) (*authcore.TokenPair, error) {
	s.lastToken = token
	if s.err != nil {
		return nil, s.err
	}
	pair := s.result().TokenPair
	return &pair, nil
}

func (s *stubService) Logout(_ context.Context, token string) error {
	s.lastToken = token
	return s.err
}

func (s *stubService) StartFederatedLogin(_ context.Context, req authcore.FederatedStartRequest) (*authcore.FederatedStartResult, error) {
	s.lastStart = req
	if s.err != nil {
		return nil, s.err
	}
	return &authcore.FederatedStartResult{URL: "https://accounts.example.com/auth?x=1", State: "signed"}, nil
}

func (s *stubService) CompleteFederatedLogin(_ context.Context, cb authcore.FederatedCallback) (*authcore.AuthResult, error) {
	s.lastCB = cb
	if s.err != nil {
		return nil, s.err
	}
	res := s.result()
	res.ClientState = "return-to"
	return res, nil
}

func (s *stubService) ValidateAccess(token string) (*jwt.Claims, error) {
	if token != s.validToken {
		return nil, errors.New("bad token")
	}
	return &jwt.Claims{Email: s.ident.Email}, nil
}

func (s *stubService) Me(_ context.Context, token string) (*identity.Identity, error) {
	s.lastToken = token
	if s.err != nil {
		return nil, s.err
	}
	return s.ident, nil
}

func serve(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestRegisterCreated(t *testing.T) {
	svc := newStubService()
	h := NewHandler(svc, Options{Logger: logging.Discard()}).Routes()

	rec := serve(t, h, http.MethodPost, "/auth/register", `{"email":"ann@example.com","password":"long-enough-1"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ann@example.com", svc.lastEmail)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "access-token", body["access_token"])
	assert.Equal(t, "sid.secret", body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 900, body["expires_in"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "6f1c1c36-6a54-4d4e-9d47-0c8a1a9d2f10", user["id"])
	assert.Equal(t, "client", user["role"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "validation",
			err:     &authcore.ValidationError{Field: "email", Reason: "is required"},
			status:  http.StatusBadRequest,
			code:    "validation",
			message: "email: is required",
		},
		{
			name:    "unauthenticated hides cause",
			err:     fmt.Errorf("%w: session expired", authcore.ErrUnauthenticated),
			status:  http.StatusUnauthorized,
			code:    "unauthenticated",
			message: "invalid credentials",
		},
		{
			name:    "conflict",
			err:     authcore.ErrConflict,
			status:  http.StatusConflict,
			code:    "conflict",
			message: "email already registered",
		},
		{
			name:    "unavailable",
			err:     fmt.Errorf("%w: redis down", authcore.ErrServiceUnavailable),
			status:  http.StatusServiceUnavailable,
			code:    "service_unavailable",
			message: "service unavailable",
		},
		{
			name:    "internal hides detail",
			err:     errors.New("hmac key missing"),
			status:  http.StatusInternalServerError,
			code:    "internal",
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			svc.err = tt.err
			h := NewHandler(svc, Options{Logger: logging.Discard()}).Routes()

			rec := serve(t, h, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"x"}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tt.code, detail.Code)
			assert.Equal(t, tt.message, detail.Message)
		})
	}
}

func TestDecodeRejectsBadBodies(t *testing.T) {
	h := NewHandler(newStubService(), Options{Logger: logging.Discard(), MaxBodyBytes: 64}).Routes()

	for name, body := range map[string]string{
		"not json":      `email=a`,
		"unknown field": `{"email":"a@example.com","password":"x","admin":true}`,
		"two objects":   `{"email":"a"}{"email":"b"}`,
		"too large":     `{"email":"` + strings.Repeat("a", 100) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, h, http.MethodPost, "/auth/login", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "body", decodeError(t, rec).Field)
		})
	}
}

func TestRefreshAndLogout(t *testing.T) {
	svc := newStubService()
	h := NewHandler(svc, Options{Logger: logging.Discard()}).Routes()

	rec := serve(t, h, http.MethodPost, "/auth/refresh", `{"refresh_token":"sid.old"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sid.old", svc.lastToken)
	assert.NotContains(t, rec.Body.String(), `"user"`)

	rec = serve(t, h, http.MethodPost, "/auth/logout", `{"refresh_token":"sid.new"}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "sid.new", svc.lastToken)
}

func TestGoogleRoutes(t *testing.T) {
	svc := newStubService()
	h := NewHandler(svc, Options{Logger: logging.Discard()}).Routes()

	rec := serve(t, h, http.MethodGet, "/auth/google/start?state=app&code_challenge=abc&code_challenge_method=S256", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app", svc.lastStart.ClientState)
	assert.Equal(t, "S256", svc.lastStart.CodeChallengeMethod)
	assert.Contains(t, rec.Body.String(), "https://accounts.example.com/auth")

	rec = serve(t, h, http.MethodGet, "/auth/google/start?pkce=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodGet, "/auth/google/callback?code=c1&state=s1&code_verifier=v1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authcore.FederatedCallback{Code: "c1", State: "s1", CodeVerifier: "v1"}, svc.lastCB)
	assert.Contains(t, rec.Body.String(), `"state":"return-to"`)

	rec = serve(t, h, http.MethodGet, "/auth/google/callback?error=access_denied&state=s1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	svc := newStubService()
	h := NewHandler(svc, Options{Logger: logging.Discard()}).Routes()

	rec := serve(t, h, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decodeError(t, rec).Message)

	rec = serve(t, h, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer access-token"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access-token", svc.lastToken)
	assert.Contains(t, rec.Body.String(), `"email":"ann@example.com"`)
}

func TestThrottledRoutes(t *testing.T) {
	h := NewHandler(newStubService(), Options{
		Logger:   logging.Discard(),
		Throttle: middleware.NewThrottle(1, 1, RejectThrottled),
	}).Routes()

	body := `{"refresh_token":"sid.x"}`
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/auth/refresh", body, nil).Code)

	rec := serve(t, h, http.MethodPost, "/auth/refresh", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Code)

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestHealthz(t *testing.T) {
	ready := errors.New("postgres down")
	h := NewHandler(newStubService(), Options{
		Logger: logging.Discard(),
		Ready:  func(context.Context) error { return ready },
	}).Routes()

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, h, http.MethodGet, "/healthz", "", nil).Code)
	ready = nil
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(newStubService(), Options{Logger: logging.Discard()}).Routes()
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodGet, "/auth/login", "", nil).Code)
}
