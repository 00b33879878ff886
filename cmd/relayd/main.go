package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/groexpert13/sheet/internal/config"
	"github.com/groexpert13/sheet/internal/health"
	"github.com/groexpert13/sheet/internal/httpserver"
	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/ledger/async"
	"github.com/groexpert13/sheet/internal/ledger/postgres"
	ledgersql "github.com/groexpert13/sheet/internal/ledger/sqlite"
	"github.com/groexpert13/sheet/internal/logging"
	"github.com/groexpert13/sheet/internal/metrics"
	"github.com/groexpert13/sheet/internal/prompt"
	"github.com/groexpert13/sheet/internal/ratelimit"
	"github.com/groexpert13/sheet/internal/relay"
	"github.com/groexpert13/sheet/internal/upstream"
	"github.com/groexpert13/sheet/internal/version"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[relayd] ")
	// Initialize rotating file logging (enabled when log_file provided)
	const maxLogBytes = int64(100 * 1024 * 1024) // 100MB
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	level := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewWriter(log.Writer(), "[relayd] ", level)
	log.Printf("%s starting (env=%s, level=%s)", version.FullInfo(), cfg.Environment, cfg.LogLevel)

	profile, err := prompt.LoadProfile(cfg.PromptFile)
	if err != nil {
		log.Fatalf("load prompt profile: %v", err)
	}
	if cfg.Model != "" {
		profile.Model = cfg.Model
	}
	if cfg.AppName != "" {
		profile.AppName = cfg.AppName
	}
	if cfg.DefaultLang != "" {
		profile.DefaultLang = cfg.DefaultLang
	}

	collector := metrics.NewCollector()
	ledgerStore, ledgerDB, backend, err := openLedger(cfg, logger)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	if ledgerStore != nil {
		defer ledgerStore.Close()
	}

	client := upstream.New(upstream.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
	})
	if !client.Configured() {
		log.Printf("OPENAI_API_KEY is not set; chat requests will fail with 500 until it is configured")
	}

	checks := health.Config{UpstreamURL: client.BaseURL() + "/models"}
	if ledgerDB != nil {
		checks.LedgerDB = ledgerDB
	}

	rl := relay.New(relay.Config{
		Upstream:       client,
		Profile:        profile,
		Timeout:        cfg.UpstreamTimeout,
		Logger:         logger.With("[relayd/relay] "),
		Metrics:        collector,
		Ledger:         ledgerStore,
		EstimateTokens: ledger.EstimateTokens,
	})
	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		rlCfg := ratelimit.Config{TurnsPerMinute: cfg.RateLimitPerMinute, Burst: cfg.RateLimitBurst}
		if addr := strings.TrimSpace(cfg.RateLimitRedis); addr != "" {
			store, err := ratelimit.NewRedisStore(addr)
			if err != nil {
				log.Fatalf("rate limit store: %v", err)
			}
			rlCfg.Store = store
		}
		limiter = ratelimit.NewLimiter(rlCfg)
		defer limiter.Close()
		log.Printf("rate limit: %.0f turns/min per client, burst %.0f", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	httpSrv := httpserver.New(httpserver.Config{
		Relay:         rl,
		Ledger:        ledgerStore,
		Metrics:       collector,
		Logger:        logger.With("[relayd/http] "),
		Health:        health.New(checks),
		RateLimit:     limiter,
		LedgerBackend: backend,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ErrorLog:          logger.With("[relayd/http] ").Std(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Answers stream for as long as the model talks; the turn deadline
		// is upstream_timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("relay listening on %s (model=%s, ledger=%s)", cfg.HTTPAddress, profile.Model, backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	// Turns that just ended may still be writing their ledger entries.
	rl.Wait()
}

// openLedger picks the backend from ledger_path: "-" disables the ledger,
// a postgres:// DSN selects PostgreSQL, anything else is a SQLite file.
// The returned *sql.DB backs the health check.
func openLedger(cfg config.Config, logger *logging.Logger) (ledger.Store, *sql.DB, string, error) {
	path := strings.TrimSpace(cfg.LedgerPath)
	if path == "" || path == "-" {
		return nil, nil, "off", nil
	}

	var (
		store ledger.Store
		db    *sql.DB
	)
	backend := "sqlite"
	if config.IsPostgresDSN(path) {
		pg, err := postgres.New(path, postgres.PoolConfig{
			MaxOpen:     10,
			MaxIdle:     5,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			return nil, nil, "", err
		}
		store, db, backend = pg, pg.DB(), "postgres"
	} else {
		lite, err := ledgersql.New(path)
		if err != nil {
			return nil, nil, "", err
		}
		store, db = lite, lite.DB()
	}

	if cfg.LedgerAsync {
		store = async.New(store, async.Config{Logger: logger})
		backend += "+async"
	}
	return store, db, backend, nil
}
