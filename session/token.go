package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

const secretBytes = 64

// ErrMalformedToken is returned by ParseToken for input that is not
// "<session uuid>.<secret>".
var ErrMalformedToken = errors.New("malformed refresh token")

// FormatToken joins a session id and its plaintext secret into the
// client-held refresh token.
func FormatToken(id uuid.UUID, secret string) string {
	return id.String() + "." + secret
}

// ParseToken splits a refresh token into its session id and secret.
func ParseToken(raw string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || secret == "" {
		return uuid.Nil, "", ErrMalformedToken
	}
	id, err := uuid.Parse(idPart)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, "", ErrMalformedToken
	}
	// The secret alphabet is base64url without padding; anything else was not minted here.
	if strings.ContainsAny(secret, ".=+/ ") {
		return uuid.Nil, "", ErrMalformedToken
	}
	return id, secret, nil
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("read refresh secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
