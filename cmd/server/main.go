package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/afterdark/memoryhunt/internal/config"
	"github.com/afterdark/memoryhunt/internal/database"
	"github.com/afterdark/memoryhunt/internal/game"
	"github.com/afterdark/memoryhunt/internal/server"
	"github.com/afterdark/memoryhunt/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	snapshots, err := server.NewSQLiteSnapshotStore(ctx, db)
	if err != nil {
		return fmt.Errorf("preparing snapshot store: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Token catalog ---
	catalog, err := token.Load(cfg.TokensPath, token.DefaultScoring())
	if err != nil {
		return fmt.Errorf("loading token catalog: %w", err)
	}
	logger.Info("token catalog loaded", "path", cfg.TokensPath, "tokens", catalog.Len())

	// --- Game state ---
	store := game.NewStore(logger, cfg.SessionIdleTimeout)
	if snap, err := snapshots.LoadSnapshot(ctx); err != nil {
		return fmt.Errorf("loading session snapshot: %w", err)
	} else if len(snap) > 0 {
		if err := store.Restore(snap); err != nil {
			return fmt.Errorf("restoring session snapshot: %w", err)
		}
		logger.Info("session restored from snapshot")
	}
	processor := game.NewProcessor(store, catalog, logger)

	// --- Realtime hub ---
	// Started only after the snapshot restore above: every admitted
	// connection must see post-restore state in its first sync.
	hub := server.NewHub(logger, store)
	hub.Start()

	// --- Video playback ---
	var media server.MediaController
	if cfg.VideoURL != "" {
		media = server.NewHTTPMediaController(cfg.VideoURL)
	}

	// --- HTTP Server ---
	issuer := server.NewTokenIssuer(cfg.AuthSecret, cfg.TokenTTL)
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		DB:              db,
		Store:           store,
		Processor:       processor,
		Hub:             hub,
		Issuer:          issuer,
		Snapshots:       snapshots,
		Media:           media,
		FacilitatorHash: cfg.FacilitatorPasswordHash,
		BatchCacheTTL:   cfg.BatchCacheTTL,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		err := srv.Shutdown(context.Background())
		hub.Shutdown()
		return err
	})

	return g.Wait()
}
