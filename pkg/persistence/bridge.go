// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persistence hands finished chat turns to chat storage.
//
// The turn controller calls a Bridge synchronously and ignores the result.
// AsyncBridge makes that safe: it queues each message and writes it to a
// Sink on a single worker goroutine, so writes keep their order, never
// block a turn, and never report back into it.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
)

// ErrClosed is reported when a message arrives after Close.
var ErrClosed = errors.New("persistence bridge closed")

// ErrQueueFull is reported when the queue cannot take another message.
var ErrQueueFull = errors.New("persistence queue full")

// Bridge receives the user and completed assistant messages of each turn.
// Implementations must not block and must not panic.
type Bridge interface {
	OnUserMessage(content string)
	OnAssistantComplete(content string, citations []datatypes.Citation)
}

// NopBridge discards everything. It is used for views with no chat id.
type NopBridge struct{}

func (NopBridge) OnUserMessage(string)                             {}
func (NopBridge) OnAssistantComplete(string, []datatypes.Citation) {}

// Sink writes one message to storage.
type Sink interface {
	AddMessage(ctx context.Context, req datatypes.AddMessageRequest) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, req datatypes.AddMessageRequest) error

// AddMessage calls f.
func (f SinkFunc) AddMessage(ctx context.Context, req datatypes.AddMessageRequest) error {
	return f(ctx, req)
}

// AsyncConfig configures an AsyncBridge.
type AsyncConfig struct {
	// QueueSize bounds pending writes. Default 64.
	QueueSize int
	// WriteTimeout bounds each Sink call. Default 10s.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *observability.TurnMetrics
	// OnError, if set, is called for every failed
	// or dropped write. It must not call back into the bridge.
	OnError func(req datatypes.AddMessageRequest, err error)
}

// AsyncBridge is a Bridge that writes to a Sink in the background.
type AsyncBridge struct {
	sink   Sink
	cfg    AsyncConfig
	logger *slog.Logger
	queue  chan datatypes.AddMessageRequest
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewAsyncBridge starts the worker. Call Close to drain and stop it.
func NewAsyncBridge(sink Sink, cfg AsyncConfig) *AsyncBridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &AsyncBridge{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan datatypes.AddMessageRequest, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// OnUserMessage queues a user message.
func (b *AsyncBridge) OnUserMessage(content string) {
	b.enqueue(datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: content})
}

// OnAssistantComplete queues a finished assistant message.
func (b *AsyncBridge) OnAssistantComplete(content string, citations []datatypes.Citation) {
	b.enqueue(datatypes.AddMessageRequest{
		Role:      datatypes.RoleAssistant,
		Content:   content,
		Citations: datatypes.CloneCitations(citations),
	})
}

// Close stops accepting messages and waits for queued ones to be written
// or for ctx to end.
func (b *AsyncBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain persistence queue: %w", ctx.Err())
	}
}

func (b *AsyncBridge) enqueue(req datatypes.AddMessageRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.report(req, ErrClosed)
		return
	}
	select {
	case b.queue <- req:
	default:
		b.report(req, ErrQueueFull)
	}
}

func (b *AsyncBridge) run() {
	defer close(b.done)
	for req := range b.queue {
		if err := b.write(req); err != nil {
			b.report(req, err)
		}
	}
}

// write performs one Sink call and converts a panic into an error.
func (b *AsyncBridge) write(req datatypes.AddMessageRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
	defer cancel()
	return b.sink.AddMessage(ctx, req)
}

func (b *AsyncBridge) report(req datatypes.AddMessageRequest, err error) {
	op := "add_" + string(req.Role) + "_message"
	b.cfg.Metrics.PersistenceError(op)
	b.logger.Warn("persist message failed",
		"role", string(req.Role),
		"content_bytes", len(req.Content),
		"error", err,
	)
	if b.cfg.OnError != nil {
		b.cfg.OnError(req, err)
	}
}

var (
	_ Bridge = NopBridge{}
	_ Bridge = (*AsyncBridge)(nil)
)
