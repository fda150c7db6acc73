// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/rallypoint/internal/engine"
	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/remote"
)

// HTTPService runs an http.Server as a suture service, shutting it
// down gracefully when the supervisor stops.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown")
	}
	return ctx.Err()
}

func (s *HTTPService) String() string { return "status-api" }

// GatewayService owns the document gateway connection. Connect only
// needs to succeed once; afterwards the client reconnects on its own,
// so the service just parks until shutdown.
type GatewayService struct {
	Store *remote.GatewayStore
}

// Serve implements suture.Service. A failed initial connect returns an
// error so the supervisor retries with backoff.
func (s *GatewayService) Serve(ctx context.Context) error {
	if err := s.Store.Connect(ctx); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *GatewayService) String() string { return "gateway-client" }

// ReplayService periodically drains the pending-operation queue as a
// safety net behind the status-transition trigger: if a reconnect
// transition is ever missed, queued writes still flush on the next
// tick.
type ReplayService struct {
	Engine   *engine.Engine
	Interval time.Duration
}

// Serve implements suture.Service.
func (s *ReplayService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.Engine.HasPendingOperations() {
				s.Engine.ForceSyncWhenOnline()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *ReplayService) String() string { return "replay-loop" }
