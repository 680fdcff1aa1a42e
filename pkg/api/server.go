// Zaparoo TCD Core
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo TCD Core.
//
// Zaparoo TCD Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo TCD Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo TCD Core.  If not, see <http://www.gnu.org/licenses/>.

// Package api serves the local HTTP API of the time circuits.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/api/middleware"
	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/ZaparooProject/tcd-core/pkg/timesync"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

const shutdownWait = 5 * time.Second

// Core is what the API needs from the running service. Calls are
// serialized onto the service loop by the implementation.
type Core interface {
	Status(ctx context.Context) (timesync.Status, error)
	Resync(ctx context.Context) error
	Zones(ctx context.Context) ([]ZoneInfo, error)
	ZoneTime(ctx context.Context, slot int) (calendar.DateTime, bool, error)
	SetZone(ctx context.Context, slot int, def, name string) error
	TimeTravel(ctx context.Context, dest *calendar.DateTime) error
	ReturnToPresent(ctx context.Context) error
	ZoneHint() (zonehint.Hint, bool)
}

type Server struct {
	core     Core
	cfg      *config.Instance
	limiter  *middleware.IPRateLimiter
	validate *validator.Validate
	logTail  func(io.Writer) (int64, error)
	router   chi.Router
}

func NewServer(cfg *config.Instance, core Core, clock clockwork.Clock) *Server {
	s := &Server{
		core:     core,
		cfg:      cfg,
		limiter:  middleware.NewIPRateLimiter(clock),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logTail:  helpers.CopyLogTail,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(chimiddleware.Timeout(config.ApiRequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))

	r.Route("/api", func(r chi.Router) {
		r.Get("/time", s.handleTime)
		r.Post("/sync", s.handleSync)

		r.Get("/zones", s.handleZones)
		r.Get("/zones/suggest", s.handleZoneSuggest)
		r.Put("/zones/{slot}", s.handleSetZone)
		r.Get("/zones/{slot}/time", s.handleZoneTime)

		r.Post("/timetravel", s.handleTimeTravel)
		r.Post("/timetravel/return", s.handleReturn)

		r.Get("/log", gzhttp.GzipHandler(http.HandlerFunc(s.handleLog)))
	})

	return r
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.APIListen(),
		Handler:           s.router,
		ReadHeaderTimeout: config.ApiRequestTimeout,
	}

	go s.limiter.RunCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting http server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}
