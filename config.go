package authcore

import (
	"bytes"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override what you need.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	Google   GoogleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	// WriteTimeout bounds security writes (lockout counters, session rotation
	// and revocation) that run detached from the caller's cancellation.
	WriteTimeout time.Duration
	// StoreTimeout bounds every other store call made on the caller's context.
	StoreTimeout time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens. Secret is also the root key from which
// the refresh-hash and OAuth-state keys are derived.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Secret     []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
	// PreviousSecrets keeps tokens signed under retired secrets valid, by kid.
	PreviousSecrets map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix string
	// RetainAfterExpiry keeps expired and revoked records around so logout
	// can still tell them apart from unknown ids.
	RetainAfterExpiry time.Duration
	// ReuseDetection revokes a session when a stale secret is replayed against it.
	ReuseDetection bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// Workers caps concurrent hash/verify calls. 0 means runtime.NumCPU().
	Workers        int
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	AccountThreshold int
	AddressThreshold int
	Duration         time.Duration
	RecordTTL        time.Duration
	RedisPrefix      string
}

/*
====================================
FEDERATED LOGIN CONFIG
====================================
*/

// GoogleConfig registers this service as a Google OAuth client. Federated
// login is disabled while ClientID is empty.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	StateTTL     time.Duration

	// Endpoint overrides, mainly for tests.
	AuthURL      string
	TokenURL     string
	TokenInfoURL string
}

// Enabled reports whether federated login is configured.
func (g GoogleConfig) Enabled() bool {
	return strings.TrimSpace(g.ClientID) != ""
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.Secret must still be set.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Issuer:     "tikiya-api",
			Audience:   "tikiya-clients",
			KeyID:      "v1",
		},
		Session: SessionConfig{
			RedisPrefix:       "ac:sess",
			RetainAfterExpiry: 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      8,
			MaxLength:      128,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			AccountThreshold: 5,
			AddressThreshold: 10,
			Duration:         15 * time.Minute,
			RecordTTL:        24 * time.Hour,
			RedisPrefix:      "ac:lock",
		},
		Google: GoogleConfig{
			StateTTL: 10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		WriteTimeout: 5 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = bytes.Clone(cfg.JWT.Secret)
	if cfg.JWT.PreviousSecrets != nil {
		out.JWT.PreviousSecrets = maps.Clone(cfg.JWT.PreviousSecrets)
	}
	return out
}

const minSecretBytes = 32

// weakSecretMarkers are fragments of placeholder secrets seen in sample
// configs. A secret containing one is refused at startup.
var weakSecretMarkers = []string{
	"changeme",
	"change-me",
	"change_me",
	"replace-me",
	"replaceme",
	"your-secret",
	"your_secret",
	"yoursecret",
	"secret-key",
	"secretkey",
	"placeholder",
	"example",
	"default",
}

// checkSecret enforces the minimum-entropy policy for the root secret.
func checkSecret(name string, secret []byte) error {
	if len(secret) < minSecretBytes {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrInvalidConfig, name, minSecretBytes)
	}
	lower := strings.ToLower(string(secret))
	for _, marker := range weakSecretMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s looks like a placeholder", ErrInvalidConfig, name)
		}
	}
	var seen [256]bool
	distinct := 0
	for _, b := range secret {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	if distinct < 8 {
		return fmt.Errorf("%w: %s has too little variety", ErrInvalidConfig, name)
	}
	return nil
}

// Validate checks c and returns an error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("%w: JWT AccessTTL must be > 0", ErrInvalidConfig)
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return fmt.Errorf("%w: JWT RefreshTTL must be longer than AccessTTL", ErrInvalidConfig)
	}
	if err := checkSecret("JWT Secret", c.JWT.Secret); err != nil {
		return err
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return fmt.Errorf("%w: JWT Issuer and Audience are required", ErrInvalidConfig)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return fmt.Errorf("%w: JWT Leeway must be between 0 and 2m", ErrInvalidConfig)
	}
	if len(c.JWT.PreviousSecrets) > 0 && strings.TrimSpace(c.JWT.KeyID) == "" {
		return fmt.Errorf("%w: JWT KeyID is required with PreviousSecrets", ErrInvalidConfig)
	}
	for kid, secret := range c.JWT.PreviousSecrets {
		if kid == c.JWT.KeyID {
			return fmt.Errorf("%w: previous secret reuses current kid %q", ErrInvalidConfig, kid)
		}
		if err := checkSecret("previous JWT secret "+kid, secret); err != nil {
			return err
		}
	}

	// Session
	if c.Session.RetainAfterExpiry < 0 {
		return fmt.Errorf("%w: Session RetainAfterExpiry must be >= 0", ErrInvalidConfig)
	}

	// Password
	if c.Password.MinLength < 8 {
		return fmt.Errorf("%w: Password MinLength must be >= 8", ErrInvalidConfig)
	}
	if c.Password.MaxLength < c.Password.MinLength || c.Password.MaxLength > password.DefaultMaxPasswordBytes {
		return fmt.Errorf("%w: Password MaxLength must be between MinLength and %d", ErrInvalidConfig, password.DefaultMaxPasswordBytes)
	}
	if c.Password.Workers < 0 {
		return fmt.Errorf("%w: Password Workers must be >= 0", ErrInvalidConfig)
	}

	// Lockout
	if c.Lockout.AccountThreshold < 1 || c.Lockout.AddressThreshold < 1 {
		return fmt.Errorf("%w: Lockout thresholds must be >= 1", ErrInvalidConfig)
	}
	if c.Lockout.Duration <= 0 {
		return fmt.Errorf("%w: Lockout Duration must be > 0", ErrInvalidConfig)
	}

	// Google
	if c.Google.Enabled() {
		if c.Google.ClientSecret == "" {
			return fmt.Errorf("%w: Google ClientSecret is required", ErrInvalidConfig)
		}
		u, err := url.Parse(c.Google.RedirectURI)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: Google RedirectURI must be an absolute URL", ErrInvalidConfig)
		}
		if c.Google.StateTTL <= 0 || c.Google.StateTTL > time.Hour {
			return fmt.Errorf("%w: Google StateTTL must be between 0 and 1h", ErrInvalidConfig)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: Audit BufferSize must be > 0", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WriteTimeout must be > 0", ErrInvalidConfig)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: StoreTimeout must be > 0", ErrInvalidConfig)
	}

	return nil
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MaxPasswordBytes: password.DefaultMaxPasswordBytes,
	}
}
