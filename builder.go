package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore/identity"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities  identity.Store
	sessionRepo session.Repository
	lockouts    lockout.Store
	auditSink   AuditSink
	logger      *slog.Logger
	httpClient  *http.Client
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs sessions and lockout counters with client unless a
// dedicated repository or store is given.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the identity store. It is required.
func (b *Builder) WithIdentityStore(store identity.Store) *Builder {
	b.identities = store
	return b
}

// WithSessionRepository overrides the Redis session repository, for example
// with store/postgres.SessionRepository.
func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessionRepo = repo
	return b
}

func (b *Builder) WithLockoutStore(store lockout.Store) *Builder {
	b.lockouts = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithHTTPClient replaces the client used to reach the identity provider.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, fmt.Errorf("%w: identity store required", ErrEngineNotReady)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	keys, err := deriveKeys(cfg.JWT)
	if err != nil {
		return nil, err
	}

	sessionRepo := b.sessionRepo
	if sessionRepo == nil {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: redis client or session repository required", ErrEngineNotReady)
		}
		sessionRepo = session.NewRedisRepository(b.redis, cfg.Session.RedisPrefix, cfg.Session.RetainAfterExpiry)
	}

	lockouts := b.lockouts
	if lockouts == nil {
		if b.redis != nil {
			lockouts = lockout.NewRedisStore(b.redis, cfg.Lockout.RedisPrefix)
		} else {
			logger.Warn("lockout counters held in process memory; they are not shared between instances")
			lockouts = lockout.NewMemoryStore(now)
		}
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		validator:  newCredentialValidator(cfg.Password),
		logger:     logger.With("component", "authcore"),
		metrics:    NewMetrics(cfg.Metrics),
		now:        now,
	}

	argon, err := password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if engine.hasher, err = password.NewPool(argon, cfg.Password.Workers); err != nil {
		return nil, err
	}

	jwtCfg := jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		SigningKey: keys.access,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		Now:        now,
	}
	if len(keys.previous) > 0 {
		jwtCfg.VerifyKeys = make(map[string][]byte, len(keys.previous)+1)
		for kid, key := range keys.previous {
			jwtCfg.VerifyKeys[kid] = key
		}
		jwtCfg.VerifyKeys[cfg.JWT.KeyID] = keys.access
	}
	if engine.tokens, err = jwt.NewManager(jwtCfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	engine.sessions, err = session.NewManager(sessionRepo, session.Config{
		TTL:            cfg.JWT.RefreshTTL,
		HashKey:        keys.refresh,
		ReuseDetection: cfg.Session.ReuseDetection,
		Now:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	engine.guard, err = lockout.NewGuard(lockouts, lockout.Config{
		Account:   lockout.Policy{Threshold: cfg.Lockout.AccountThreshold, Duration: cfg.Lockout.Duration},
		Address:   lockout.Policy{Threshold: cfg.Lockout.AddressThreshold, Duration: cfg.Lockout.Duration},
		RecordTTL: cfg.Lockout.RecordTTL,
		Now:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.Google.Enabled() {
		engine.federation, err = oauth.NewFlow(oauth.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			AuthURL:      cfg.Google.AuthURL,
			TokenURL:     cfg.Google.TokenURL,
			TokenInfoURL: cfg.Google.TokenInfoURL,
			StateKey:     keys.state,
			StateTTL:     cfg.Google.StateTTL,
			HTTPClient:   b.httpClient,
			Now:          now,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = audit.NewSlogSink(logger)
		}
		engine.audit = audit.NewDispatcher(audit.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	b.built = true

	return engine, nil
}
