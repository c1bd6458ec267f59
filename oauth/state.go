package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// DefaultStateTTL is how long a minted state stays acceptable.
	DefaultStateTTL = 10 * time.Minute
	stateNonceBytes = 16
	// maxStateSkew tolerates small clock differences between replicas.
	maxStateSkew = time.Minute
	// maxClientState bounds the passthrough value carried in the state.
	maxClientState = 512
)

// ErrInvalidState is returned for a state token that is forged, malformed,
// or outside its validity window.
var ErrInvalidState = errors.New("invalid oauth state")

// StatePayload is the authenticated content of a state token.
type StatePayload struct {
	IssuedAt    int64  `json:"ts"`
	Nonce       string `json:"nonce"`
	ClientState string `json:"client_state,omitempty"`
}

// StateSigner mints and verifies stateless anti-CSRF state tokens of the form
// base64url(json) "." base64url(HMAC-SHA256(base64url(json))).
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner returns a signer keyed with key.
func NewStateSigner(key []byte, ttl time.Duration, now func() time.Time) (*StateSigner, error) {
	if len(key) < 32 {
		return nil, errors.New("state key must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateSigner{key: key, ttl: ttl, now: now}, nil
}

// Mint creates a state token carrying clientState.
func (s *StateSigner) Mint(clientState string) (string, error) {
	if len(clientState) > maxClientState {
		return "", fmt.Errorf("client state exceeds %d bytes", maxClientState)
	}
	nonce := make([]byte, stateNonceBytes)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read state nonce: %w", err)
	}

	payload, err := json.Marshal(StatePayload{
		IssuedAt:    s.now().Unix(),
		Nonce:       base64.RawURLEncoding.EncodeToString(nonce),
		ClientState: clientState,
	})
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)

	return payloadB64 + "." + base64.RawURLEncoding.EncodeToString(s.sign(payloadB64)), nil
}

// Verify checks the tag, then the age, and returns the payload.
func (s *StateSigner) Verify(token string) (*StatePayload, error) {
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok || payloadB64 == "" || sigB64 == "" {
		return nil, ErrInvalidState
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, ErrInvalidState
	}
	if !hmac.Equal(sig, s.sign(payloadB64)) {
		return nil, ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, ErrInvalidState
	}
	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Nonce == "" {
		return nil, ErrInvalidState
	}

	issued := time.Unix(payload.IssuedAt, 0)
	now := s.now()
	if now.Sub(issued) > s.ttl || issued.Sub(now) > maxStateSkew {
		return nil, ErrInvalidState
	}
	return &payload, nil
}

func (s *StateSigner) sign(payloadB64 string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}
