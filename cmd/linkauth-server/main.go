// Command linkauth-server serves the linkauth engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/linkAuth"
	"github.com/MrEthical07/linkAuth/httpapi"
	"github.com/MrEthical07/linkAuth/internal/appconfig"
	"github.com/MrEthical07/linkAuth/internal/logger"
	"github.com/MrEthical07/linkAuth/mailer"
	otelexport "github.com/MrEthical07/linkAuth/metrics/export/otel"
	promexport "github.com/MrEthical07/linkAuth/metrics/export/prometheus"
	"github.com/MrEthical07/linkAuth/middleware"
	"github.com/MrEthical07/linkAuth/store"
	"github.com/MrEthical07/linkAuth/store/pgstore"
	"github.com/MrEthical07/linkAuth/store/redisstore"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server shut down gracefully")
}

func run(cfg *appconfig.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	entities, closeStore, err := openStore(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	engine, err := linkAuth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithStore(entities).
		WithMailer(newMailer(cfg, log)).
		WithAuditSink(linkAuth.NewZerologSink(log.With().Str("component", "audit").Logger())).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	otelExporter, err := otelexport.New(otel.Meter("github.com/MrEthical07/linkAuth"), engine)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	defer otelExporter.Close()

	router, err := newRouter(cfg, engine, log)
	if err != nil {
		return err
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newRouter(cfg *appconfig.Config, engine *linkAuth.Engine, log zerolog.Logger) (*gin.Engine, error) {
	if cfg.App.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), middleware.Logger(log), middleware.ClientContext())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promexport.New(engine).Handler()))
	}

	httpapi.New(engine, httpapi.Options{
		CookieDomain: cfg.HTTP.CookieDomain,
		CookieSecure: cfg.HTTP.CookieSecure,
	}).Register(r)
	return r, nil
}

// openStore uses Postgres when a database URL is configured and Redis
// otherwise.
func openStore(ctx context.Context, cfg *appconfig.Config, rdb redis.UniversalClient, log zerolog.Logger) (store.Store, func(), error) {
	if cfg.DB.DatabaseURL == "" {
		log.Info().Msg("entity store: redis")
		return redisstore.New(rdb, cfg.Redis.Prefix+":ent"), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := pgstore.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info().Msg("entity store: postgres")
	return pgstore.New(pool), pool.Close, nil
}

func newMailer(cfg *appconfig.Config, log zerolog.Logger) linkAuth.Mailer {
	if cfg.Mail.SendGridAPIKey == "" {
		log.Warn().Msg("no SendGrid key configured, mail is logged instead of sent")
		return mailer.NewLog(log)
	}
	return mailer.NewSendGrid(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
}
