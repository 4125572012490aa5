// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package server exposes the query pipeline over HTTP.
//
// Answers and run transitions are delivered as server-sent events. A client
// that disconnects from an answer stream before anything was released
// cancels its run.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/pipeline"
	"github.com/shopspring/decimal"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Pipeline is the query surface the HTTP API drives.
type Pipeline interface {
	CreateSession(ctx context.Context, userID string) (*core.Session, error)
	Session(ctx context.Context, id string) (*core.Session, error)
	Submit(ctx context.Context, q core.Query) (string, error)
	Status(ctx context.Context, runID string) (*core.PipelineRun, error)
	Stream(ctx context.Context, runID string) iter.Seq2[core.StreamChunk, error]
	Subscribe(runID string) (<-chan pipeline.RunEvent, func(), error)
	Cancel(runID string) error
}

// Tickets is the review queue.
type Tickets interface {
	List(ctx context.Context, status core.TicketStatus) ([]*core.EscalationTicket, error)
	Get(ctx context.Context, id string) (*core.EscalationTicket, error)
	Resolve(ctx context.Context, id, note string) (*core.EscalationTicket, error)
	Abandon(ctx context.Context, id, note string) (*core.EscalationTicket, error)
}

// Ledger reads session spend.
type Ledger interface {
	Entries(ctx context.Context, sessionID string) ([]*core.CostLedgerEntry, error)
	SessionTotal(ctx context.Context, sessionID string) (decimal.Decimal, int, error)
}

// Evaluations reads quality scores.
type Evaluations interface {
	Records(ctx context.Context, runID string) ([]*core.EvaluationRecord, error)
}

// Dependencies are the services behind the API. Evaluations is optional.
type Dependencies struct {
	Pipeline    Pipeline
	Tickets     Tickets
	Ledger      Ledger
	Evaluations Evaluations
}

// Server is the HTTP API.
type Server struct {
	deps            Dependencies
	router          *gin.Engine
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithShutdownTimeout bounds how long Serve waits for open requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("shutdown timeout must be positive, got %v", d)
		}
		s.shutdownTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New builds the API router.
func New(deps Dependencies, opts ...Option) (*Server, error) {
	switch {
	case deps.Pipeline == nil:
		return nil, ErrPipelineRequired
	case deps.Tickets == nil:
		return nil, ErrTicketsRequired
	case deps.Ledger == nil:
		return nil, ErrLedgerRequired
	}

	s := &Server{
		deps:            deps,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	r := gin.New()
	r.Use(recoveryMiddleware(s.logger), loggerMiddleware(s.logger))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.register(r.Group("/v1"))
	s.router = r
	return s, nil
}

func (s *Server) register(v1 *gin.RouterGroup) {
	v1.POST("/sessions", s.createSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.GET("/sessions/:id/ledger", s.getLedger)

	v1.POST("/queries", s.submitQuery)
	v1.GET("/runs/:id", s.getRun)
	v1.DELETE("/runs/:id", s.cancelRun)
	v1.GET("/runs/:id/stream", s.streamRun)
	v1.GET("/runs/:id/events", s.runEvents)
	v1.GET("/runs/:id/evaluations", s.runEvaluations)

	v1.GET("/escalations", s.listTickets)
	v1.GET("/escalations/:id", s.getTicket)
	v1.POST("/escalations/:id/resolve", s.resolveTicket)
	v1.POST("/escalations/:id/abandon", s.abandonTicket)
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
