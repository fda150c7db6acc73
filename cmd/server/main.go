// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package main is the entry point for the Rallypoint sync server.
//
// The server is the offline-first bridge between domain surfaces
// (feeds, notifications, events) and the platform's remote document
// gateway. It initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML file,
//     RALLYPOINT_* environment variables)
//  2. Logging: zerolog, JSON or console format
//  3. Durable queue: BadgerDB-backed pending-operation store, loading
//     any operations queued before the last shutdown
//  4. Remote store: websocket gateway client wrapped in a circuit
//     breaker
//  5. Sync engine: cache, connection status monitor, replay wiring
//  6. Supervision tree: gateway connection, replay loop, and the
//     status/metrics HTTP API under suture
//
// The server shuts down gracefully on SIGINT and SIGTERM: streams are
// closed, the gateway connection is dropped, and the durable queue is
// flushed to disk so deferred writes survive the restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"golang.org/x/time/rate"

	"github.com/tomtom215/rallypoint/internal/api"
	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/config"
	"github.com/tomtom215/rallypoint/internal/engine"
	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
	"github.com/tomtom215/rallypoint/internal/stream"
	"github.com/tomtom215/rallypoint/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("gateway", cfg.Gateway.URL).Msg("rallypoint sync server starting")

	// Durable pending-operation queue. Deferred writes from previous
	// runs are loaded back in order.
	var pending *queue.Queue
	var store *queue.Store
	if cfg.Queue.Path != "" {
		store, err = queue.OpenStore(queue.StoreConfig{
			Path:       cfg.Queue.Path,
			SyncWrites: cfg.Queue.SyncWrites,
		})
		if err != nil {
			return fmt.Errorf("open queue store: %w", err)
		}
		defer store.Close()

		pending, err = queue.NewDurable(store)
		if err != nil {
			return fmt.Errorf("restore pending operations: %w", err)
		}
		if n := pending.Count(); n > 0 {
			logging.Info().Int("count", n).Msg("restored pending operations from previous run")
		}
	} else {
		logging.Warn().Msg("queue path empty, pending operations will not survive restarts")
		pending = queue.New()
	}

	// Remote document store: websocket gateway behind a breaker.
	gateway := remote.NewGatewayStore(remote.GatewayConfig{
		URL:              cfg.Gateway.URL,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		RequestTimeout:   cfg.Gateway.RequestTimeout,
		PingInterval:     cfg.Gateway.PingInterval,
		ReconnectMin:     cfg.Gateway.ReconnectMin,
		ReconnectMax:     cfg.Gateway.ReconnectMax,
	})
	defer gateway.Close()
	remoteStore := remote.NewBreakerStore(gateway)

	// In-process event bus carrying connection status transitions.
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer bus.Close()
	monitor := stream.NewMonitor(bus)
	defer monitor.Close()

	eng := engine.New(engine.Config{
		RemoteTimeout:     cfg.Sync.RemoteTimeout,
		MaxReplayAttempts: cfg.Sync.MaxReplayAttempts,
		ReplayRate:        rate.Limit(cfg.Sync.ReplayPerSecond),
		ReplayBurst:       cfg.Sync.ReplayBurst,
	}, cache.New(), pending, remoteStore, monitor)
	defer eng.Dispose()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(&supervisor.GatewayService{Store: gateway})
	tree.AddSyncService(&supervisor.ReplayService{Engine: eng})
	tree.AddAPIService(&supervisor.HTTPService{
		Server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      api.NewRouter(eng).Handler(),
			ReadTimeout:  cfg.Server.Timeout,
			WriteTimeout: cfg.Server.Timeout,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("status API listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Int("pending", eng.PendingOperationsCount()).
		Msg("shutdown complete, queued operations preserved")
	return nil
}
