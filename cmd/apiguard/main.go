// Command apiguard runs the API key gatekeeper and its management API.
//
// Usage:
//
//	apiguard [-env .env] serve
//	apiguard [-env .env] token <user-id>
//
// Settings come from APIGUARD_* environment variables. The token subcommand
// prints a management bearer token for user-id signed with
// APIGUARD_JWT_SECRET.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/adminapi"
	"github.com/apiguard/apiguard/internal/config"
	"github.com/apiguard/apiguard/jwt"
	otelexport "github.com/apiguard/apiguard/metrics/export/otel"
	"github.com/apiguard/apiguard/metrics/export/prometheus"
	"github.com/apiguard/apiguard/store/memstore"
	"github.com/apiguard/apiguard/store/sqlstore"
	"github.com/redis/go-redis/v9"
)

// keyDirectory is a key store that also answers management queries.
type keyDirectory interface {
	apiguard.KeyStore
	adminapi.Directory
}

func main() {
	envFile := flag.String("env", "", "optional .env file loaded before ./.env")
	flag.Parse()

	settings, err := config.FromEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(settings)
	slog.SetDefault(logger)

	switch cmd := flag.Arg(0); cmd {
	case "", "serve":
		err = serve(settings, logger)
	case "token":
		err = printToken(settings, flag.Arg(1))
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		logger.Error("apiguard exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(s config.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.LogLevel}
	if s.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newTokenManager(s config.Settings) (*jwt.Manager, error) {
	return jwt.NewManager(jwt.Config{
		TTL:           s.JWTTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(s.JWTSecret),
		Issuer:        s.JWTIssuer,
		Leeway:        30 * time.Second,
		RequireIAT:    true,
	})
}

func printToken(s config.Settings, uid string) error {
	if uid == "" {
		return errors.New("usage: apiguard token <user-id>")
	}
	tokens, err := newTokenManager(s)
	if err != nil {
		return err
	}
	token, err := tokens.CreateToken(uid)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func openStore(ctx context.Context, s config.Settings) (keyDirectory, func(), error) {
	switch s.Store {
	case config.StoreSQLite, config.StorePostgres:
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Dialect:         sqlstore.Dialect(s.Store),
			DSN:             s.DatabaseURL,
			MaxOpenConns:    16,
			ConnMaxLifetime: time.Hour,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// startOTelLog mirrors the engine counters into an OpenTelemetry meter that
// logs its points every interval. The returned func flushes and stops it.
func startOTelLog(engine *apiguard.Engine, logger *slog.Logger, interval time.Duration) (func(), error) {
	provider := otelexport.NewLogMeterProvider(logger.With(slog.String("component", "metrics")), interval)
	exporter, err := otelexport.New(provider.Meter("github.com/apiguard/apiguard"), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("otel metrics shutdown", slog.Any("error", err))
		}
		_ = exporter.Close()
	}, nil
}

func serve(s config.Settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, s)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	builder := apiguard.New().
		WithConfig(s.Engine).
		WithKeyStore(store).
		WithLogger(logger).
		WithAuditSink(apiguard.NewSlogSink(logger))

	if s.RedisURL != "" {
		opts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		builder = builder.WithRedis(client)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	for _, finding := range s.Engine.Lint() {
		logger.Warn("config lint", slog.String("code", finding.Code),
			slog.String("severity", finding.Severity.String()),
			slog.String("message", finding.Message))
	}

	tokens, err := newTokenManager(s)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	opts := adminapi.Options{
		CredentialTag:  s.Engine.Credential.Tag,
		RequestTimeout: s.RequestTimeout,
	}
	opts.Guard.UnavailableStatus = s.UnavailableStatus
	opts.Guard.TrustForwardedFor = s.TrustForwardedFor
	if s.Engine.Metrics.Enabled {
		opts.Metrics = prometheus.New(engine).Handler()
	}
	if s.OTelLogInterval > 0 {
		shutdownMetrics, err := startOTelLog(engine, logger, s.OTelLogInterval)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer shutdownMetrics()
	}

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           adminapi.NewServer(engine, store, tokens, logger, opts).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("apiguard listening", slog.String("addr", s.Addr), slog.String("store", string(s.Store)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
