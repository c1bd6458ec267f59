package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		AccessTTL:  15 * time.Minute,
		SigningKey: testKey,
		Issuer:     "tikiya-api",
		Audience:   "tikiya-clients",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func signRaw(t *testing.T, method gjwt.SigningMethod, key interface{}, claims Claims, kid string) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func baseClaims(now time.Time) Claims {
	return Claims{
		Email: "a@example.com",
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "tikiya-api",
			Audience:  gjwt.ClaimStrings{"tikiya-clients"},
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func TestMintAndValidate(t *testing.T) {
	m := newTestManager(t, nil)

	tok, err := m.Mint(Subject{ID: "user-1", Email: "a@example.com", Role: "client"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := m.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" || claims.Role != "client" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", got)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, func(c *Config) {
		c.Now = func() time.Time { return now }
	})
	tok, err := m.Mint(Subject{ID: "user-1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	later := newTestManager(t, func(c *Config) {
		c.Now = func() time.Time { return now.Add(16 * time.Minute) }
	})
	if _, err := later.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestValidateRequiresExactIssuerAndAudience(t *testing.T) {
	m := newTestManager(t, nil)
	now := time.Now()

	cases := map[string]func(*Claims){
		"issuer suffix":   func(c *Claims) { c.Issuer = "tikiya-api-evil" },
		"issuer prefix":   func(c *Claims) { c.Issuer = "tikiya" },
		"audience prefix": func(c *Claims) { c.Audience = gjwt.ClaimStrings{"tikiya-client"} },
		"audience extra":  func(c *Claims) { c.Audience = gjwt.ClaimStrings{"tikiya-clients", "other"} },
		"missing exp":     func(c *Claims) { c.ExpiresAt = nil },
		"missing sub":     func(c *Claims) { c.Subject = "" },
	}
	for name, mutate := range cases {
		claims := baseClaims(now)
		mutate(&claims)
		tok := signRaw(t, gjwt.SigningMethodHS256, testKey, claims, "")
		if _, err := m.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected rejection, got %v", name, err)
		}
	}

	tok := signRaw(t, gjwt.SigningMethodHS256, testKey, baseClaims(now), "")
	if _, err := m.Validate(tok); err != nil {
		t.Fatalf("expected baseline token to pass: %v", err)
	}
}

func TestValidateRejectsWrongAlgorithmAndKey(t *testing.T) {
	m := newTestManager(t, nil)
	now := time.Now()

	other := signRaw(t, gjwt.SigningMethodHS256, []byte(strings.Repeat("z", 32)), baseClaims(now), "")
	if _, err := m.Validate(other); err == nil {
		t.Fatal("expected foreign key signature to fail")
	}

	hs512 := signRaw(t, gjwt.SigningMethodHS512, testKey, baseClaims(now), "")
	if _, err := m.Validate(hs512); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}

	none := signRaw(t, gjwt.SigningMethodNone, gjwt.UnsafeAllowNoneSignatureType, baseClaims(now), "")
	if _, err := m.Validate(none); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestValidateKeyRotation(t *testing.T) {
	oldKey := []byte(strings.Repeat("o", 32))
	newKey := []byte(strings.Repeat("n", 32))
	m := newTestManager(t, func(c *Config) {
		c.SigningKey = newKey
		c.KeyID = "k2"
		c.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": newKey}
	})
	now := time.Now()

	retired := signRaw(t, gjwt.SigningMethodHS256, oldKey, baseClaims(now), "k1")
	if _, err := m.Validate(retired); err != nil {
		t.Fatalf("expected retired-key token to validate: %v", err)
	}

	unknown := signRaw(t, gjwt.SigningMethodHS256, oldKey, baseClaims(now), "k3")
	if _, err := m.Validate(unknown); err == nil {
		t.Fatal("expected unknown kid to fail")
	}

	noKid := signRaw(t, gjwt.SigningMethodHS256, newKey, baseClaims(now), "")
	if _, err := m.Validate(noKid); err == nil {
		t.Fatal("expected missing kid to fail")
	}

	fresh, err := m.Mint(Subject{ID: "user-1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.Validate(fresh); err != nil {
		t.Fatalf("expected freshly minted token to validate: %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningKey: testKey, Issuer: "i", Audience: "a"},
		{AccessTTL: time.Minute, SigningKey: []byte("short"), Issuer: "i", Audience: "a"},
		{AccessTTL: time.Minute, SigningKey: testKey, Audience: "a"},
		{AccessTTL: time.Minute, SigningKey: testKey, Issuer: "i", Audience: "a", Leeway: time.Hour},
		{AccessTTL: time.Minute, SigningKey: testKey, Issuer: "i", Audience: "a", KeyID: "k9", VerifyKeys: map[string][]byte{"k1": testKey}},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
