package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/afterdark/memoryhunt/internal/game"
)

// Deps carries everything the HTTP surface needs. Media and Snapshots may be
// nil: playback and persistence degrade to no-ops.
type Deps struct {
	DB              *sql.DB
	Store           *game.Store
	Processor       *game.Processor
	Hub             *Hub
	Issuer          *TokenIssuer
	Snapshots       SnapshotStore
	Media           MediaController
	FacilitatorHash string
	BatchCacheTTL   time.Duration
}

type Server struct {
	srv     *http.Server
	logger  *slog.Logger
	batches *batchCache
}

func New(addr string, logger *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	r.Use(middleware.Recoverer)

	batches := newBatchCache(deps.BatchCacheTTL)
	addRoutes(r, logger, deps, batches)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger:  logger,
		batches: batches,
	}
}

func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	go s.batches.evictLoop(ctx, time.Minute)

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
