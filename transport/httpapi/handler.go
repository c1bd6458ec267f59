package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/middleware"
)

const defaultMaxBodyBytes = 16 << 10

// Service is the engine surface the API serves. *authcore.Engine implements it.
type Service interface {
	Register(ctx context.Context, email, password string) (*authcore.AuthResult, error)
	Login(ctx context.Context, email, password string) (*authcore.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	StartFederatedLogin(ctx context.Context, req authcore.FederatedStartRequest) (*authcore.FederatedStartResult, error)
	CompleteFederatedLogin(ctx context.Context, cb authcore.FederatedCallback) (*authcore.AuthResult, error)
	ValidateAccess(token string) (*jwt.Claims, error)
	Me(ctx context.Context, token string) (*identity.Identity, error)
}

// Options tunes the API. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Throttle, when set, rate-limits every /auth route per client address.
	Throttle *middleware.Throttle
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy   bool
	MaxBodyBytes int64
	// Ready backs /healthz. Nil always reports healthy.
	Ready func(ctx context.Context) error
}

// Handler routes HTTP requests to a Service.
type Handler struct {
	svc  Service
	opts Options
}

func NewHandler(svc Service, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{svc: svc, opts: opts}
}

// Routes returns the full middleware-wrapped router.
func (h *Handler) Routes() http.Handler {
	auth := func(next http.Handler) http.Handler { return next }
	if h.opts.Throttle != nil {
		auth = h.opts.Throttle.Middleware
	}
	bearer := middleware.RequireBearer(h.svc, rejectUnauthenticated)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", auth(http.HandlerFunc(h.register)))
	mux.Handle("POST /auth/login", auth(http.HandlerFunc(h.login)))
	mux.Handle("POST /auth/refresh", auth(http.HandlerFunc(h.refresh)))
	mux.Handle("POST /auth/logout", auth(http.HandlerFunc(h.logout)))
	mux.Handle("GET /auth/google/start", auth(http.HandlerFunc(h.googleStart)))
	mux.Handle("GET /auth/google/callback", auth(http.HandlerFunc(h.googleCallback)))
	mux.Handle("GET /auth/me", auth(bearer(http.HandlerFunc(h.me))))
	mux.HandleFunc("GET /healthz", h.health)

	var root http.Handler = mux
	root = middleware.SecurityHeaders(root)
	root = middleware.RequestContext(h.opts.Logger, h.opts.TrustProxy)(root)
	return root
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAuthResponse(res))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(*pair))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) googleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := authcore.FederatedStartRequest{
		ClientState:         q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
	if raw := q.Get("pkce"); raw != "" {
		generate, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, &authcore.ValidationError{Field: "pkce", Reason: "must be a boolean"})
			return
		}
		req.GeneratePKCE = generate
	}

	res, err := h.svc.StartFederatedLogin(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{URL: res.URL, CodeVerifier: res.CodeVerifier})
}

func (h *Handler) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		// The user declined or the provider refused before issuing a code.
		h.opts.Logger.InfoContext(r.Context(), "auth.google.provider_error", "error", providerErr)
		writeError(w, r, authcore.ErrUnauthenticated)
		return
	}

	res, err := h.svc.CompleteFederatedLogin(r.Context(), authcore.FederatedCallback{
		Code:         q.Get("code"),
		State:        q.Get("state"),
		CodeVerifier: q.Get("code_verifier"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	ident, err := h.svc.Me(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: newUserResponse(ident)})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			h.opts.Logger.WarnContext(r.Context(), "healthz.not_ready", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a single JSON object into v. It writes the 400 itself and
// reports false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		reason := "must be a JSON object"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reason = "is too large"
		}
		writeError(w, r, &authcore.ValidationError{Field: "body", Reason: reason})
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, r, &authcore.ValidationError{Field: "body", Reason: "must contain a single JSON object"})
		return false
	}
	return true
}
