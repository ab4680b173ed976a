// Command server runs the price-negotiation backend: a Gin HTTP API over a
// SQLite ledger, with automated negotiation turns delegated to an LLM
// provider gateway and an admin console for human takeover.
//
// Configuration is environment-driven (see internal/config). A local .env
// file is loaded when present so development does not require exporting
// variables by hand.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-negotiation-backend/internal/config"
	"github.com/tbourn/go-negotiation-backend/internal/domain"
	httpapi "github.com/tbourn/go-negotiation-backend/internal/http"
	"github.com/tbourn/go-negotiation-backend/internal/observability"
	"github.com/tbourn/go-negotiation-backend/internal/provider"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
	"github.com/tbourn/go-negotiation-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Best effort: a missing .env is fine in production.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Tracing is optional; the server runs fine without a collector.
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("otel setup failed; continuing without tracing")
		shutdownOTel = func(context.Context) error { return nil }
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sysutil.IsTruthy(os.Getenv("SEED_DEMO")) {
		if err := seedDemoCatalog(ctx, db); err != nil {
			log.Warn().Err(err).Msg("demo seed failed")
		}
	}

	gateway := newGateway(cfg.Providers)
	log.Info().
		Strs("providers", gateway.Available()).
		Str("primary", cfg.Providers.Primary).
		Str("fallback", cfg.Providers.Fallback).
		Msg("completion gateway ready")

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, gateway, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("starting server")
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}

	log.Info().Msg("stopped")
	return nil
}

// newGateway builds the provider registry from configuration. All known
// providers are registered; ones without credentials fail their first call
// with a descriptive error rather than at startup, so a single key is enough
// to run.
func newGateway(pc config.ProviderConfig) *provider.Gateway {
	providers := map[string]provider.Provider{
		"openai":    &provider.OpenAI{APIKey: pc.OpenAIKey, Model: pc.OpenAIModel},
		"groq":      &provider.Groq{APIKey: pc.GroqKey, Model: pc.GroqModel},
		"anthropic": &provider.Anthropic{APIKey: pc.AnthropicKey, Model: pc.AnthropicModel},
	}
	return provider.NewGateway(providers, pc.Fallback)
}

// seedDemoCatalog inserts a small product catalog for local development.
// Existing rows are left alone so re-running with SEED_DEMO=1 is harmless.
func seedDemoCatalog(ctx context.Context, db *gorm.DB) error {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Product{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	demo := []domain.Product{
		{Name: "Espresso Machine", Description: "Compact 15-bar espresso maker.", ListPrice: 199.99, MaxDiscount: 30.00},
		{Name: "Wireless Headphones", Description: "Over-ear, 40h battery.", ListPrice: 89.50, MaxDiscount: 15.00},
		{Name: "Standing Desk", Description: "Dual-motor sit-stand desk.", ListPrice: 449.00, MaxDiscount: 60.00},
	}
	for _, p := range demo {
		if _, err := repo.CreateProduct(ctx, db, p.Name, p.Description, p.ListPrice, p.MaxDiscount); err != nil {
			return err
		}
	}
	log.Info().Int("products", len(demo)).Msg("seeded demo catalog")
	return nil
}
