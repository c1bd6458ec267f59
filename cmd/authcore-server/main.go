// Command authcore-server serves the authcore engine over HTTP.
//
// Identities always live in Postgres (DATABASE_URL). Refresh sessions and
// lockout counters live in Redis when REDIS_ADDR is set and in Postgres
// otherwise, so every instance shares them either way. Metrics are served
// for Prometheus on METRICS_ADDR and pushed over OTLP/HTTP when
// OTLP_METRICS_ENDPOINT is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/MrEthical07/authcore/transport/httpapi"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// writeTimeout leaves room for the provider calls in the Google callback.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 20 * time.Second
	idleTimeout       = 60 * time.Second
	readyTimeout      = 2 * time.Second
	lockoutSweepEvery = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "authcore-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	env, err := authcore.LoadEnv()
	if err != nil {
		return err
	}
	logger := logging.New(env.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if strings.TrimSpace(env.DatabaseURL) == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", authcore.ErrInvalidConfig)
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: env.DatabaseURL, MaxConns: env.DatabasePoolMax}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if env.DatabaseMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database schema applied")
	}

	builder := authcore.New().
		WithConfig(env.Config()).
		WithIdentityStore(postgres.NewIdentityStore(pool)).
		WithLogger(logger).
		WithHTTPClient(oauth.NewHTTPClient())

	var (
		rdb      *redis.Client
		lockouts *postgres.LockoutStore
	)
	if env.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: env.RedisAddr, Password: env.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder.WithRedis(rdb)
		logger.Info("redis connection established", "addr", env.RedisAddr)
	} else {
		lockouts = postgres.NewLockoutStore(pool, nil)
		builder.
			WithSessionRepository(postgres.NewSessionRepository(pool)).
			WithLockoutStore(lockouts)
	}

	switch strings.ToLower(env.AuditFormat) {
	case "json":
		builder.WithAuditSink(audit.NewJSONWriterSink(os.Stdout))
	case "slog", "":
	default:
		return fmt.Errorf("%w: AUDIT_FORMAT must be slog or json", authcore.ErrInvalidConfig)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}

	throttle := middleware.NewThrottle(env.ThrottleRPS, env.ThrottleBurst, httpapi.RejectThrottled)
	api := httpapi.NewHandler(engine, httpapi.Options{
		Logger:     logger,
		Throttle:   throttle,
		TrustProxy: env.TrustProxy,
		Ready:      readiness(pool, rdb),
	})

	shutdownOTLP := func(context.Context) error { return nil }
	if env.OTLPEndpoint != "" {
		if shutdownOTLP, err = startOTLP(ctx, env, engine, logger); err != nil {
			return err
		}
	}

	servers := []*http.Server{newServer(env.HTTPAddr, api.Routes())}
	if env.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", prometheus.NewExporter(engine).Handler())
		servers = append(servers, newServer(env.MetricsAddr, mux))
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		throttle.Run(gCtx)
		return nil
	})

	if lockouts != nil {
		g.Go(func() error {
			lockouts.RunSweeper(gCtx, lockoutSweepEvery, func(err error) {
				logger.Warn("lockout sweep failed", "error", err)
			})
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		// Flush queued audit events once no request can add more.
		errs = append(errs, engine.Close(shutdownCtx))
		errs = append(errs, shutdownOTLP(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited", "audit_dropped", engine.AuditDropped())
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

func readiness(pool *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
