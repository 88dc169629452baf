package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/tapestry/internal/api"
	"github.com/jordanhubbard/tapestry/internal/bus"
	"github.com/jordanhubbard/tapestry/internal/cache"
	"github.com/jordanhubbard/tapestry/internal/database"
	"github.com/jordanhubbard/tapestry/internal/engine"
	"github.com/jordanhubbard/tapestry/internal/executor"
	"github.com/jordanhubbard/tapestry/internal/invoker"
	"github.com/jordanhubbard/tapestry/internal/learning"
	"github.com/jordanhubbard/tapestry/internal/metrics"
	"github.com/jordanhubbard/tapestry/internal/pattern"
	"github.com/jordanhubbard/tapestry/internal/telemetry"
	"github.com/jordanhubbard/tapestry/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	if *showVersion {
		fmt.Printf("Tapestry v%s\n", version)
		return
	}

	cfg := loadConfig(*configPath)

	// Override with environment variables if set
	if dsn := os.Getenv("TAPESTRY_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		log.Printf("Using database DSN from environment")
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
		log.Printf("Using NATS URL from environment: %s", natsURL)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.Endpoint
		if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
			endpoint = env
		}
		shutdownTelemetry, err := telemetry.Init(runCtx, cfg.Telemetry.ServiceName, endpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	// Persistence
	var (
		store   pattern.Store
		sink    learning.Sink
		history *database.Database
	)
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		store = db.PatternStore()
		sink = db.LearningSink()
		history = db
		log.Printf("[Main] Using PostgreSQL persistence")
	} else {
		store = pattern.NewMemoryStore()
		sink = learning.NewMemorySink()
		log.Printf("[Main] Running with in-memory persistence")
	}

	// Cache
	cacheConfig := &cache.Config{
		Enabled:       cfg.Cache.Enabled,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MaxSize:       cfg.Cache.MaxSize,
		CleanupPeriod: cfg.Cache.CleanupPeriod,
	}
	var engineCache *cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		backend, err := cache.NewRedisBackend(runCtx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Printf("Warning: Redis unavailable, falling back to memory cache: %v", err)
			engineCache = cache.New(cacheConfig)
		} else {
			defer backend.Close()
			engineCache = cache.NewWithBackend(backend, cacheConfig)
			log.Printf("[Main] Using Redis cache at %s", cfg.Cache.RedisAddr)
		}
	} else {
		engineCache = cache.New(cacheConfig)
	}

	// Event bus
	var publisher engine.EventPublisher
	if cfg.NATS.Enabled {
		b, err := bus.New(bus.Config{URL: cfg.NATS.URL, StreamName: cfg.NATS.StreamName})
		if err != nil {
			log.Printf("Warning: NATS unavailable, events stay local: %v", err)
		} else {
			defer b.Close()
			publisher = b
			log.Printf("[Main] Publishing events to NATS at %s", cfg.NATS.URL)
		}
	}

	// Tool invoker: an HTTP tool host, the local shell, or nothing
	var inv executor.Invoker
	switch {
	case cfg.Tools.Endpoint == "local":
		inv = invoker.NewShell(".", cfg.Tools.Timeout)
		log.Printf("[Main] Invoking terminal steps locally")
	case cfg.Tools.Endpoint != "":
		inv = invoker.NewHTTP(cfg.Tools.Endpoint, cfg.Tools.AuthToken, cfg.Tools.Timeout)
		log.Printf("[Main] Invoking tools via %s", cfg.Tools.Endpoint)
	default:
		inv = invoker.Unconfigured{}
		log.Printf("Warning: No tool endpoint configured; executions will fail")
	}

	m := metrics.New()

	// The API server is created after the engine but needs to observe its
	// execution events, so the hook captures the pointer set below.
	var apiServer *api.Server
	engCfg := engineConfigFrom(cfg)
	engCfg.Executor.OnEvent = func(ev executor.Event) {
		if apiServer != nil {
			apiServer.PublishExecutionEvent(ev)
		}
	}

	var engineHistory engine.History
	if history != nil {
		engineHistory = history
	}
	eng, err := engine.New(engCfg, engine.Deps{
		Store:     store,
		Invoker:   inv,
		Sink:      sink,
		Cache:     engineCache,
		Metrics:   m,
		Publisher: publisher,
		History:   engineHistory,
	})
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	// Restore learned affinities and load user pattern definitions
	if cfg.Patterns.Dir != "" {
		loadPatternDir(eng, cfg.Patterns.Dir)
		if cfg.Patterns.Watch {
			go func() {
				if err := pattern.Watch(runCtx, cfg.Patterns.Dir, eng.Registry()); err != nil {
					log.Printf("Warning: pattern watcher stopped: %v", err)
				}
			}()
		}
	}

	go eng.Run(runCtx)

	var apiHistory api.ExecutionHistory
	if history != nil {
		apiHistory = history
	}
	apiServer = api.NewServer(eng, apiHistory, cfg, m)

	// Wrap handler with OpenTelemetry instrumentation
	handler := otelhttp.NewHandler(apiServer.SetupRoutes(), "tapestry-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Tapestry API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	if n, err := eng.FlushLearning(); err != nil {
		log.Printf("Error flushing learning queue: %v", err)
	} else if n > 0 {
		log.Printf("Flushed %d pending outcomes", n)
	}
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicitly named file must load.
func loadConfig(path string) *config.Config {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
			log.Printf("No config.yaml found, using defaults")
			return config.Default()
		}
		log.Fatalf("failed to load config from %s: %v", path, err)
	}
	return cfg
}

func loadPatternDir(eng *engine.Engine, dir string) {
	patterns, err := pattern.LoadDirectory(dir)
	if err != nil {
		log.Printf("Warning: failed to load patterns from %s: %v", dir, err)
		return
	}
	for _, p := range patterns {
		if _, err := eng.Registry().Save(p); err != nil {
			log.Printf("Warning: skipping pattern %s: %v", p.Name, err)
		}
	}
	log.Printf("[Main] Loaded %d patterns from %s", len(patterns), dir)
}

// engineConfigFrom maps the YAML engine section onto component configs
func engineConfigFrom(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()

	if cfg.Engine.ConfidentThreshold > 0 {
		ec.Predictor.ConfidentThreshold = cfg.Engine.ConfidentThreshold
	}
	if cfg.Engine.PlausibleThreshold > 0 {
		ec.Predictor.PlausibleThreshold = cfg.Engine.PlausibleThreshold
	}
	if cfg.Engine.StepTimeout > 0 {
		ec.Executor.StepTimeout = cfg.Engine.StepTimeout
	}
	if cfg.Engine.RetryMaxAttempts > 0 {
		ec.Executor.Retry = executor.RetryPolicy{
			MaxAttempts: cfg.Engine.RetryMaxAttempts,
			Backoff:     cfg.Engine.RetryBackoff,
		}
	}
	if cfg.Engine.LearnRate > 0 {
		ec.Learning.LearnRate = cfg.Engine.LearnRate
	}
	if cfg.Engine.DecayFactor > 0 {
		ec.Learning.DecayFactor = cfg.Engine.DecayFactor
	}
	if cfg.Engine.FlushInterval > 0 {
		ec.Learning.FlushInterval = cfg.Engine.FlushInterval
	}
	if cfg.Engine.OutcomeBufferSize > 0 {
		ec.Learning.BufferSize = cfg.Engine.OutcomeBufferSize
	}
	if cfg.Engine.MineMinOccurrences > 0 {
		ec.Extractor.MinOccurrences = cfg.Engine.MineMinOccurrences
	}
	if cfg.Engine.MineMaxSequenceLen > 0 {
		ec.Extractor.MaxSequenceLen = cfg.Engine.MineMaxSequenceLen
	}
	if cfg.Cache.DefaultTTL > 0 {
		ec.CacheTTL = cfg.Cache.DefaultTTL
	}

	return ec
}

func printHelp() {
	fmt.Println("Usage: tapestry [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config   Path to configuration file (default: config.yaml)")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -help     Show help message")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TAPESTRY_DB_DSN               PostgreSQL connection string")
	fmt.Println("  NATS_URL                      NATS server URL")
	fmt.Println("  OTEL_EXPORTER_OTLP_ENDPOINT   OpenTelemetry collector endpoint")
}
