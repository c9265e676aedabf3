package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/geotruth/engine/internal/ambient"
	"github.com/geotruth/engine/internal/api"
	"github.com/geotruth/engine/internal/arbiter"
	"github.com/geotruth/engine/internal/config"
	"github.com/geotruth/engine/internal/engine"
	"github.com/geotruth/engine/internal/httputil"
	"github.com/geotruth/engine/internal/match"
	"github.com/geotruth/engine/internal/monitoring"
	"github.com/geotruth/engine/internal/spatial/postgis"
	"github.com/geotruth/engine/internal/spatial/sqlitestore"
)

var (
	configPath = flag.String("config", "", "path to engine config JSON (optional)")
	listen     = flag.String("listen", "", "listen address, overrides config")
	verbose    = flag.Bool("verbose", false, "enable per-point debug logging")
)

// sweepInterval is how often the bundle cache evicts expired entries.
const sweepInterval = time.Hour

func loadConfig() *config.EngineConfig {
	path := *configPath
	if path == "" {
		// Fall back to the default path when it exists; a bare binary
		// with no config file at all still runs on built-in defaults.
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyEngineConfig()
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadEngineConfig(path)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", path, err)
	}
	return cfg
}

func main() {
	flag.Parse()
	cfg := loadConfig()
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())

	// "engine migrate up|down|status|force N" manages the reference schema
	// and exits without starting the service.
	if flag.Arg(0) == "migrate" {
		if err := runMigrate(cfg, flag.Args()[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	store, err := sqlitestore.Open(cfg.GetOfflineDBPath())
	if err != nil {
		log.Fatalf("failed to open reference database: %v", err)
	}
	defer store.Close()
	if err := store.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("failed to migrate reference database: %v", err)
	}

	offline := &arbiter.Backends{
		Spatial: store,
		Ambient: &ambient.OfflineProvider{},
	}

	// Online backends are wired only when a Postgres DSN is configured. The
	// geocoder and remote matcher are each optional on top of that.
	var online *arbiter.Backends
	var oracle arbiter.ConnectivityOracle
	if dsn := cfg.GetPostgresDSN(); dsn != "" {
		pg, err := postgis.Open(dsn)
		if err != nil {
			log.Fatalf("failed to open postgres backend: %v", err)
		}
		defer pg.Close()

		online = &arbiter.Backends{Spatial: pg, Ambient: &ambient.OfflineProvider{}}
		oracle = arbiter.PingOracle{Pinger: pg}

		httpClient := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
		if u := cfg.GetGeocodeURL(); u != "" {
			online.Ambient = ambient.NewOnlineProvider(u, httpClient)
		}
		if u := cfg.GetValhallaURL(); u != "" {
			online.Matcher = match.NewOnlineMatcher(u, httpClient)
		}
	}

	arb := arbiter.New(online, offline, oracle, cfg.GetOnlineTimeout())
	eng, err := engine.New(arb, engine.Config{
		Match:      cfg.MatchConfig(),
		Normalizer: cfg.NormalizerConfig(),
		CacheTTL:   cfg.GetCacheTTL(),
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Cache().StartSweeper(ctx, sweepInterval)

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes over the reference database
		store.AttachAdminRoutes(mux)

		// mount the API handlers; they register under /api/ themselves
		apiMux := api.NewServer(eng).ServeMux()
		mux.Handle("/api/", apiMux)

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
