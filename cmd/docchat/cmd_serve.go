// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianDocChat/cmd/docchat/config"
	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/AleutianAI/AleutianDocChat/services/chatapi"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Serve the chat history API",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationExportTraces: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// runServe runs the API and, when configured, a separate metrics listener
// until ctx ends or either fails.
func runServe(ctx context.Context, a *app) error {
	gin.SetMode(gin.ReleaseMode)

	bcfg := chatstore.DefaultBadgerConfig(config.ExpandPath(a.cfg.Server.StorePath))
	bcfg.Logger = a.logger.Slog()
	store, err := chatstore.OpenBadger(bcfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := chatapi.NewServer(a.cfg.Server.Addr, chatapi.Config{
		Store:         store,
		Logger:        a.logger.Slog(),
		Metrics:       observability.NewAPIMetrics(reg),
		Gatherer:      reg,
		RatePerSecond: a.cfg.Server.RatePerSecond,
		Burst:         a.cfg.Server.Burst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	if a.cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, a.cfg.Server.MetricsAddr, reg) })
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listen: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
