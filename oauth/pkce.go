package oauth

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

var errInvalidPKCE = errors.New("invalid pkce parameter")

// NewVerifier returns a fresh RFC 7636 code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// S256Challenge derives the S256 challenge for verifier.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// validPKCEValue checks the RFC 7636 alphabet and length shared by
// verifiers and S256 challenges.
func validPKCEValue(v string) bool {
	if len(v) < 43 || len(v) > 128 {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("-._~", r):
		default:
			return false
		}
	}
	return true
}

func normalizeChallengeMethod(method string) (string, error) {
	switch strings.TrimSpace(method) {
	case "", MethodS256:
		return MethodS256, nil
	case MethodPlain:
		return MethodPlain, nil
	default:
		return "", errInvalidPKCE
	}
}
