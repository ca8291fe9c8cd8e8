package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/api"
	"github.com/stylora/retrieval/cache"
	"github.com/stylora/retrieval/config"
	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/encoder"
	"github.com/stylora/retrieval/engine"
	"github.com/stylora/retrieval/index"
	"github.com/stylora/retrieval/persistence"
	"github.com/stylora/retrieval/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file (default: ~/.retrieval.yml)")
		host       = flag.String("host", "", "Host to listen on (overrides config)")
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		storePath  = flag.String("store", "", "Catalog database path (overrides config)")
		snapType   = flag.String("snapshots", "", "Snapshot backend: memory, bolt, badger (overrides config)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *snapType != "" {
		cfg.Persistence.Type = persistence.StoreType(*snapType)
	}

	log := newLogger(cfg.Logging)
	log.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Str("store", cfg.Store.Path).
		Str("snapshots", string(cfg.Persistence.Type)).
		Str("encoder", cfg.Encoder.Endpoint).
		Str("index_kind", cfg.Index.Kind).
		Msg("starting retrieval server")

	db, err := store.NewBoltStore(cfg.Store.Path, core.EmbeddingKind(cfg.Index.Kind))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog store")
	}
	defer db.Close()

	snapshots, err := persistence.NewStore(cfg.Persistence, cfg.Index.Kind)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create snapshot store")
	}
	defer snapshots.Close()

	manager := index.NewManager(db, snapshots, cfg.Index.ToManagerConfig(), log)

	embCache, closeCache, err := newEmbeddingCache(cfg.Cache, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create embedding cache")
	}
	if closeCache != nil {
		defer closeCache()
	}

	enc, err := encoder.NewHTTPEncoder(cfg.Encoder, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create encoder")
	}

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Catalog:      db,
		Interactions: db,
		Encoder:      enc,
		Index:        manager,
		Cache:        embCache,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	server := api.NewServer(eng, cfg.Server, log)

	// Background index maintenance and session cleanup.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := eng.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("engine maintenance loop exited")
		}
	}()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	stopRun()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if cfg.Format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Logger()
}

func newEmbeddingCache(cfg config.CacheConfig, log zerolog.Logger) (*cache.EmbeddingCache, func() error, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	var kv core.KeyValueStore
	switch cfg.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(cfg.Addr, cfg.Password, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		kv = rs
	case "memory":
		kv = cache.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}

	return cache.NewEmbeddingCache(kv, cfg.TTL, log), kv.Close, nil
}
