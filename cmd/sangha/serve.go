// Copyright 2025 Blink Labs Software
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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/sangha"
	"github.com/blinklabs-io/sangha/community"
	"github.com/blinklabs-io/sangha/event"
	"github.com/blinklabs-io/sangha/internal/config"
)

func serveRun(cmd *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	if err := serve(cmd.Context(), cfg, logger, os.Stdin); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// serve hosts a community fed by a YAML message stream until interrupted
func serve(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	input io.Reader,
) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", programName)
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		ctx,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	tracerProvider, shutdownTracing, err := setupTracing(signalCtx, cfg)
	if err != nil {
		return err
	}
	s, err := openStore(cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	n, err := sangha.New(
		sangha.NewConfig(
			sangha.WithLogger(logger),
			// Enable metrics with default prometheus registry
			sangha.WithPrometheusRegistry(prometheus.DefaultRegisterer),
			sangha.WithTracerProvider(tracerProvider),
			sangha.WithStore(s),
			sangha.WithSettings(cfg.Community),
			sangha.WithFinalizePolicy(cfg.FinalizePolicy()),
			sangha.WithPolicyInterval(cfg.PolicyInterval),
			sangha.WithSnapshotInterval(cfg.SnapshotInterval),
			sangha.WithShutdownTimeout(cfg.ShutdownTimeout),
			sangha.WithInboxSize(cfg.InboxSize),
		),
	)
	if err != nil {
		_ = s.Close()
		return err
	}
	logOutbound(n.EventBus(), logger)

	// Metrics listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsBindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", programName,
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", programName,
			)
			signalCtxStop()
		}
	}()

	go readMessages(signalCtx, n, input, logger)

	runErr := n.Run(signalCtx)
	logger.Info("node stopped, shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}
	return runErr
}

// readMessages submits every message in the input stream to the node. The
// node keeps running when the stream ends.
func readMessages(
	ctx context.Context,
	n *sangha.Node,
	input io.Reader,
	logger *slog.Logger,
) {
	dec := community.NewMessageDecoder(input)
	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			logger.Info("message stream closed", "component", programName)
			return
		}
		if errors.Is(err, community.ErrMalformedStream) {
			logger.Error("unreadable message stream", "error", err, "component", programName)
			return
		}
		if err != nil {
			logger.Warn("skipping invalid message", "error", err, "component", programName)
			continue
		}
		if err := n.Submit(ctx, msg); err != nil {
			if errors.Is(err, sangha.ErrStopped) || ctx.Err() != nil {
				return
			}
			logger.Info(
				"message rejected",
				"kind", msg.Kind(),
				"sender", msg.Sender(),
				"reason", community.ReasonOf(err),
				"component", programName,
			)
		}
	}
}

// logOutbound logs every outbound record. A transport would deliver them
// instead.
func logOutbound(bus *event.EventBus, logger *slog.Logger) {
	for _, kind := range community.OutboundKinds() {
		bus.SubscribeFunc(
			community.EventType(kind),
			func(evt event.Event) {
				out, ok := evt.Data.(community.Outbound)
				if !ok {
					return
				}
				to := "*"
				if !out.Broadcast() {
					to = string(out.To)
				}
				logger.Info(
					"outbound",
					"kind", out.Kind,
					"to", to,
					"payload", out.Payload,
					"component", programName,
				)
			},
		)
	}
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a community, reading YAML messages from stdin",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
	return cmd
}
