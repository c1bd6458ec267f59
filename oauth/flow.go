package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"golang.org/x/oauth2"
)

// ProviderGoogle is the provider name stored on linked identities.
const ProviderGoogle = "google"

const (
	GoogleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	GoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

	connectTimeout = 5 * time.Second
	requestTimeout = 10 * time.Second
	maxInfoBytes   = 1 << 16
)

var (
	// ErrIdentityRejected means the provider answered but the result cannot be
	// trusted: exchange refused, wrong audience, expired, or no verified email.
	ErrIdentityRejected = errors.New("external identity rejected")
	// ErrProviderUnavailable means the provider could not be reached in time.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrInvalidRequest means the caller supplied unusable parameters.
	ErrInvalidRequest = errors.New("invalid federated login request")
)

// Config describes the registered client at the provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides, defaulting to Google's.
	AuthURL      string
	TokenURL     string
	TokenInfoURL string

	StateKey []byte
	StateTTL time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

// StartRequest is the input to Start.
type StartRequest struct {
	ClientState         string
	CodeChallenge       string
	CodeChallengeMethod string
	// GeneratePKCE makes Start create a verifier when no challenge is given.
	GeneratePKCE bool
}

// StartResult is returned by Start. CodeVerifier is set only when Start
// generated the PKCE pair itself.
type StartResult struct {
	URL          string
	State        string
	CodeVerifier string
}

// CallbackRequest is the input to Complete.
type CallbackRequest struct {
	Code         string
	State        string
	CodeVerifier string
}

// ExternalIdentity is the provider-asserted identity after all checks passed.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	ClientState   string
}

// Flow runs the relying-party side of the authorization code flow.
type Flow struct {
	oauth        *oauth2.Config
	tokenInfoURL string
	client       *http.Client
	state        *StateSigner
	now          func() time.Time
}

// NewHTTPClient returns a client with a 5s connect and 10s overall timeout.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Transport: transport, Timeout: requestTimeout}
}

// NewFlow validates cfg and builds a Flow.
func NewFlow(cfg Config) (*Flow, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oauth client id and secret are required")
	}
	if _, err := url.ParseRequestURI(cfg.RedirectURL); err != nil {
		return nil, fmt.Errorf("oauth redirect url: %w", err)
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = GoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if cfg.TokenInfoURL == "" {
		cfg.TokenInfoURL = GoogleTokenInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	signer, err := NewStateSigner(cfg.StateKey, cfg.StateTTL, cfg.Now)
	if err != nil {
		return nil, err
	}

	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokenInfoURL: cfg.TokenInfoURL,
		client:       cfg.HTTPClient,
		state:        signer,
		now:          cfg.Now,
	}, nil
}

// Start mints a signed state and returns the provider authorization URL.
func (f *Flow) Start(req StartRequest) (*StartResult, error) {
	method, err := normalizeChallengeMethod(req.CodeChallengeMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: code_challenge_method", ErrInvalidRequest)
	}

	challenge := strings.TrimSpace(req.CodeChallenge)
	var verifier string
	switch {
	case challenge != "":
		if !validPKCEValue(challenge) {
			return nil, fmt.Errorf("%w: code_challenge", ErrInvalidRequest)
		}
	case req.GeneratePKCE:
		verifier = NewVerifier()
		challenge = S256Challenge(verifier)
		method = MethodS256
	}

	state, err := f.state.Mint(req.ClientState)
	if err != nil {
		return nil, fmt.Errorf("%w: state: %v", ErrInvalidRequest, err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", method),
		)
	}

	return &StartResult{
		URL:          f.oauth.AuthCodeURL(state, opts...),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// Complete verifies the state, exchanges the code, and checks the identity
// the provider asserts for the resulting access token.
func (f *Flow) Complete(ctx context.Context, req CallbackRequest) (*ExternalIdentity, error) {
	payload, err := f.state.Verify(req.State)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code", ErrInvalidRequest)
	}

	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		if !validPKCEValue(req.CodeVerifier) {
			return nil, fmt.Errorf("%w: code_verifier", ErrInvalidRequest)
		}
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.client)
	tok, err := f.oauth.Exchange(exchangeCtx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			if retrieveErr.Response.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: token exchange status %d", ErrProviderUnavailable, retrieveErr.Response.StatusCode)
			}
			return nil, fmt.Errorf("%w: token exchange status %d", ErrIdentityRejected, retrieveErr.Response.StatusCode)
		}
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderUnavailable, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrIdentityRejected)
	}

	info, err := f.fetchTokenInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	ext, err := f.checkTokenInfo(info)
	if err != nil {
		return nil, err
	}
	ext.ClientState = payload.ClientState
	return ext, nil
}

type tokenInfo struct {
	Audience      string    `json:"aud"`
	AuthorizedFor string    `json:"azp"`
	Subject       string    `json:"sub"`
	Email         string    `json:"email"`
	EmailVerified flexBool  `json:"email_verified"`
	Expiry        flexInt64 `json:"exp"`
	Issuer        string    `json:"iss"`
}

func (f *Flow) fetchTokenInfo(ctx context.Context, accessToken string) (*tokenInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tokenInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build tokeninfo request: %v", ErrProviderUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: tokeninfo: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrIdentityRejected, resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInfoBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode tokeninfo: %v", ErrIdentityRejected, err)
	}
	return &info, nil
}

func (f *Flow) checkTokenInfo(info *tokenInfo) (*ExternalIdentity, error) {
	switch {
	case info.Audience != f.oauth.ClientID:
		return nil, fmt.Errorf("%w: audience mismatch", ErrIdentityRejected)
	case info.AuthorizedFor != "" && info.AuthorizedFor != f.oauth.ClientID:
		return nil, fmt.Errorf("%w: authorized party mismatch", ErrIdentityRejected)
	case info.Issuer != "" && !googleIssuer(info.Issuer):
		return nil, fmt.Errorf("%w: issuer mismatch", ErrIdentityRejected)
	case int64(info.Expiry) <= f.now().Unix():
		return nil, fmt.Errorf("%w: token expired", ErrIdentityRejected)
	case strings.TrimSpace(info.Subject) == "":
		return nil, fmt.Errorf("%w: missing subject", ErrIdentityRejected)
	case strings.TrimSpace(info.Email) == "":
		return nil, fmt.Errorf("%w: missing email", ErrIdentityRejected)
	case !bool(info.EmailVerified):
		return nil, fmt.Errorf("%w: email not verified", ErrIdentityRejected)
	}

	return &ExternalIdentity{
		Provider:      ProviderGoogle,
		Subject:       info.Subject,
		Email:         identity.NormalizeEmail(info.Email),
		EmailVerified: true,
	}, nil
}

func googleIssuer(iss string) bool {
	return iss == "https://accounts.google.com" || iss == "accounts.google.com"
}

// flexBool decodes both JSON booleans and the "true"/"false" strings the
// tokeninfo endpoint returns.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

// flexInt64 decodes numbers and numeric strings.
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = flexInt64(v)
	return nil
}
