// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatapi serves the chat history API used to open existing chats
// and to persist finished turns.
//
// # Routes
//
//	GET  /healthz
//	GET  /metrics
//	GET  /v1/chats                       list the caller's chats
//	POST /v1/chats                       create a chat
//	GET  /v1/chats/:chatId/messages      history + last answer's citations
//	POST /v1/chats/:chatId/messages      append a message
//
// Every /v1 request must carry X-Organization-Id and X-User-Id. The API
// trusts them; authentication belongs to the gateway in front of it.
package chatapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config configures the API.
type Config struct {
	Store   chatstore.Store
	Logger  *slog.Logger
	Metrics *observability.APIMetrics

	// Gatherer backs /metrics. Default prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// RatePerSecond and Burst configure the per-organization token bucket.
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int

	// ServiceName labels otel spans. Default "docchat-chatapi".
	ServiceName string
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	service := cfg.ServiceName
	if service == "" {
		service = "docchat-chatapi"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.Use(requestMetrics(cfg.Metrics))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &handlers{store: cfg.Store, logger: logger}
	v1 := router.Group("/v1")
	v1.Use(requireScope())
	v1.Use(newOrgLimiter(cfg.RatePerSecond, cfg.Burst, 0, cfg.Metrics).middleware())
	{
		chats := v1.Group("/chats")
		chats.GET("", h.listChats)
		chats.POST("", h.createChat)
		chats.GET("/:chatId/messages", h.getMessages)
		chats.POST("/:chatId/messages", h.addMessage)
	}
	return router
}

// Server runs the API until its context ends.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wraps a router in an http.Server listening on addr.
func NewServer(addr string, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("chat API listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("chat API shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
