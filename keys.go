package authcore

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Subkey purposes. Changing a label invalidates everything keyed under it.
const (
	purposeAccessToken = "authcore/access-token/v1"
	purposeRefreshHash = "authcore/refresh-hash/v1"
	purposeOAuthState  = "authcore/oauth-state/v1"
	derivedKeyBytes    = 32
)

// deriveKey expands the root secret into an independent key for one purpose,
// so a leak of one derived key says nothing about the others.
func deriveKey(secret []byte, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, derivedKeyBytes)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

type derivedKeys struct {
	access  []byte
	refresh []byte
	state   []byte
	// previous access keys by kid
	previous map[string][]byte
}

func deriveKeys(cfg JWTConfig) (*derivedKeys, error) {
	var (
		keys derivedKeys
		err  error
	)
	if keys.access, err = deriveKey(cfg.Secret, purposeAccessToken); err != nil {
		return nil, err
	}
	if keys.refresh, err = deriveKey(cfg.Secret, purposeRefreshHash); err != nil {
		return nil, err
	}
	if keys.state, err = deriveKey(cfg.Secret, purposeOAuthState); err != nil {
		return nil, err
	}
	if len(cfg.PreviousSecrets) > 0 {
		keys.previous = make(map[string][]byte, len(cfg.PreviousSecrets))
		for kid, secret := range cfg.PreviousSecrets {
			if keys.previous[kid], err = deriveKey(secret, purposeAccessToken); err != nil {
				return nil, err
			}
		}
	}
	return &keys, nil
}
