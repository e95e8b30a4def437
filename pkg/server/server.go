// Package server exposes the Anthropic-compatible HTTP surface and wires it
// to the pooled Kiro backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	sloghttp "github.com/samber/slog-http"

	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/pool"
	"github.com/openkiro/kirogate/pkg/tokencount"
)

// Server holds the gateway's shared dependencies. The account pool is
// threaded through explicitly; there is no global state.
type Server struct {
	cfg     *config.Config
	pool    *pool.Pool
	counter *tokencount.Counter
	logger  *slog.Logger
}

// New assembles a server.
func New(cfg *config.Config, accountPool *pool.Pool, counter *tokencount.Counter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		pool:    accountPool,
		counter: counter,
		logger:  logger,
	}
}

// estimateTokens is the output-token estimator handed to the stream
// converter.
func (s *Server) estimateTokens(text string) int {
	return tokencount.CountText(text)
}

// Router builds the HTTP handler: request logging, permissive CORS, and the
// authenticated /v1 routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(sloghttp.New(s.logger))
	r.Use(cors.Handler(corsOptions()))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/models", s.handleModels)
		r.Post("/messages", s.handleMessages)
		r.Post("/messages/count_tokens", s.handleCountTokens)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		// Streaming responses run long; only the read side gets a deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
