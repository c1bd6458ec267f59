package authcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig is the process configuration read from environment variables.
type EnvConfig struct {
	JWTSecret          string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"tikiya-api"`
	JWTAudience        string        `env:"JWT_AUDIENCE" envDefault:"tikiya-clients"`
	AccessTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL         time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	ReuseDetection     bool          `env:"REFRESH_REUSE_DETECTION" envDefault:"false"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string        `env:"GOOGLE_REDIRECT_URI"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	DatabasePoolMax    int32         `env:"DATABASE_POOL_MAX" envDefault:"20"`
	DatabaseMigrate    bool          `env:"DATABASE_MIGRATE" envDefault:"true"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	HTTPAddr           string        `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr        string        `env:"METRICS_ADDR"`
	TrustProxy         bool          `env:"TRUST_PROXY" envDefault:"false"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AuditFormat        string        `env:"AUDIT_FORMAT" envDefault:"slog"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	ThrottleRPS        float64       `env:"THROTTLE_RPS" envDefault:"10"`
	ThrottleBurst      int           `env:"THROTTLE_BURST" envDefault:"20"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	OTLPEndpoint       string        `env:"OTLP_METRICS_ENDPOINT"`
	OTLPInsecure       bool          `env:"OTLP_INSECURE" envDefault:"false"`
	OTLPInterval       time.Duration `env:"OTLP_INTERVAL" envDefault:"15s"`
	ServiceName        string        `env:"SERVICE_NAME" envDefault:"authcore"`
}

// LoadEnv reads EnvConfig from the process environment.
func LoadEnv() (EnvConfig, error) {
	return parseEnv(env.Options{})
}

// LoadEnvFrom reads EnvConfig from environ instead of the process environment.
func LoadEnvFrom(environ map[string]string) (EnvConfig, error) {
	return parseEnv(env.Options{Environment: environ})
}

func parseEnv(opts env.Options) (EnvConfig, error) {
	var raw EnvConfig
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return EnvConfig{}, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}
	return raw, nil
}

// Config overlays the environment onto DefaultConfig.
func (e EnvConfig) Config() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(e.JWTSecret)
	cfg.JWT.Issuer = e.JWTIssuer
	cfg.JWT.Audience = e.JWTAudience
	cfg.JWT.AccessTTL = e.AccessTTL
	cfg.JWT.RefreshTTL = e.RefreshTTL
	cfg.Session.ReuseDetection = e.ReuseDetection
	cfg.Google.ClientID = e.GoogleClientID
	cfg.Google.ClientSecret = e.GoogleClientSecret
	cfg.Google.RedirectURI = e.GoogleRedirectURI
	cfg.StoreTimeout = e.StoreTimeout
	cfg.WriteTimeout = e.WriteTimeout
	return cfg
}
