// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"github.com/AleutianAI/AleutianDocChat/pkg/stream"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is how a SendMessage call ended.
type Outcome int

const (
	// OutcomeRejected means the call was a no-op: blank query or a turn
	// already in flight.
	OutcomeRejected Outcome = iota
	OutcomeCompleted
	OutcomeAborted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config is the per-view request scope passed through to the answering
// service unmodified.
type Config struct {
	OrganizationID string
	FolderIDs      []string
	DocumentNames  []string
	TopK           int
}

// Option configures a Controller.
type Option func(*Controller)

// WithBridge sets the persistence callbacks. Default persistence.NopBridge.
func WithBridge(b persistence.Bridge) Option {
	return func(c *Controller) { c.bridge = b }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets turn metrics. Nil disables them.
func WithMetrics(m *observability.TurnMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer sets the tracer for turn spans. Default is the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithObserver registers fn to receive a Snapshot after every state change.
// fn runs on the goroutine driving the turn and must not call SendMessage.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// WithDecoderOptions passes options to each turn's stream.Decoder.
func WithDecoderOptions(opts ...stream.DecoderOption) Option {
	return func(c *Controller) { c.decoderOpts = append(c.decoderOpts, opts...) }
}

// Controller drives turns for one Session.
//
// SendMessage blocks for the length of a turn. Stop, State and Snapshot may
// be called concurrently from other goroutines.
type Controller struct {
	session     *Session
	transport   stream.Transport
	cfg         Config
	bridge      persistence.Bridge
	logger      *slog.Logger
	metrics     *observability.TurnMetrics
	tracer      trace.Tracer
	observers   []func(Snapshot)
	decoderOpts []stream.DecoderOption
}

// NewController creates a Controller. A nil session starts empty.
func NewController(session *Session, transport stream.Transport, cfg Config, opts ...Option) *Controller {
	if session == nil {
		session = NewSession(Seed{})
	}
	c := &Controller{
		session:   session,
		transport: transport,
		cfg:       cfg,
		bridge:    persistence.NopBridge{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = observability.Tracer(nil)
	}
	return c
}

// Session returns the controlled session.
func (c *Controller) Session() *Session { return c.session }

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot { return c.session.Snapshot() }

// State returns the current turn state.
func (c *Controller) State() TurnState { return c.session.State() }

// Stop cancels the in-flight turn. It is a no-op when idle and safe to
// call repeatedly.
func (c *Controller) Stop() { c.session.stop() }

// SendMessage runs one turn for query and returns how it ended. It never
// returns an error: rejected calls change nothing, cancellation ends in
// OutcomeAborted and any other failure appends FailureMessage.
func (c *Controller) SendMessage(ctx context.Context, query string) Outcome {
	if strings.TrimSpace(query) == "" {
		c.metrics.TurnRejected()
		return OutcomeRejected
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prior, ok := c.session.begin(query, cancel)
	if !ok {
		c.metrics.TurnRejected()
		c.logger.Debug("turn rejected, another turn is streaming")
		return OutcomeRejected
	}

	started := time.Now()
	turnID := newTurnID()
	logger := c.logger.With("turn_id", turnID)
	turnCtx, span := c.tracer.Start(turnCtx, "conversation.turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("organization.id", c.cfg.OrganizationID),
			attribute.Int("history.length", len(prior)),
		),
	)
	defer span.End()

	c.metrics.TurnStarted()
	c.notify()
	c.safeCall(logger, "on_user_message", func() { c.bridge.OnUserMessage(query) })

	logger.Info("turn started", "history_length", len(prior), "query_bytes", len(query))

	err := c.stream(turnCtx, logger, c.buildRequest(query, prior), started)

	var outcome Outcome
	switch {
	case err == nil:
		outcome = OutcomeCompleted
		content, cits := c.session.finalize()
		c.notify()
		c.metrics.Citations(len(cits))
		c.safeCall(logger, "on_assistant_complete", func() { c.bridge.OnAssistantComplete(content, cits) })
		span.SetAttributes(attribute.Int("answer.bytes", len(content)), attribute.Int("answer.citations", len(cits)))
	case errors.Is(turnCtx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		outcome = OutcomeAborted
		c.session.abort()
		c.notify()
		logger.Info("turn aborted")
	default:
		outcome = OutcomeFailed
		c.session.fail()
		c.notify()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("turn failed", "error", err)
	}

	c.session.idle()
	c.notify()

	elapsed := time.Since(started)
	c.metrics.TurnEnded(outcome.String(), elapsed)
	span.SetAttributes(attribute.String("turn.outcome", outcome.String()))
	logger.Info("turn ended", "outcome", outcome.String(), "duration_ms", elapsed.Milliseconds())
	return outcome
}

// stream opens the request and applies events until done, EOF or error.
func (c *Controller) stream(ctx context.Context, logger *slog.Logger, req datatypes.StreamRequest, started time.Time) error {
	if c.transport == nil {
		return errors.New("no stream transport configured")
	}

	body, err := c.transport.OpenStream(ctx, req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer body.Close()

	c.session.setState(StateStreaming)
	c.notify()

	opts := append([]stream.DecoderOption{
		stream.WithMalformedHandler(func(line string, err error) {
			c.metrics.MalformedFrame()
			logger.Debug("dropped malformed frame", "error", err, "line_bytes", len(line))
		}),
	}, c.decoderOpts...)
	dec := stream.NewDecoder(ctx, body, opts...)
	defer dec.Close()

	firstChunk := true
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode stream: %w", err)
		}
		c.metrics.Event(string(ev.Kind()))

		switch e := ev.(type) {
		case stream.Thinking:
			c.session.appendThinking(e.Content)
		case stream.ThinkingDone:
			c.session.endThinking()
		case stream.Chunk:
			if firstChunk {
				firstChunk = false
				c.metrics.FirstChunk(time.Since(started))
			}
			c.session.appendChunk(e.Content)
		case stream.Citation:
			c.session.appendCitation(e.Citation)
		case stream.Done:
			stats := dec.Stats()
			logger.Debug("stream done",
				"lines", stats.Lines,
				"events", stats.Events,
				"malformed", stats.Malformed,
				"bytes", stats.Bytes,
			)
			return nil
		}
		c.notify()
	}

	// A stream that closes without a done marker still completes the turn,
	// unless the close was caused by cancellation.
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (c *Controller) buildRequest(query string, prior []datatypes.Message) datatypes.StreamRequest {
	req := datatypes.StreamRequest{
		OrganizationID:      c.cfg.OrganizationID,
		Query:               query,
		ConversationHistory: datatypes.ToHistory(prior),
		TopK:                c.cfg.TopK,
	}
	if len(c.cfg.FolderIDs) > 0 || len(c.cfg.DocumentNames) > 0 {
		req.Filters = &datatypes.Filters{
			FolderIDs:     append([]string(nil), c.cfg.FolderIDs...),
			DocumentNames: append([]string(nil), c.cfg.DocumentNames...),
		}
	}
	return req
}

func (c *Controller) notify() {
	if len(c.observers) == 0 {
		return
	}
	snap := c.session.Snapshot()
	for _, fn := range c.observers {
		c.safeCall(c.logger, "observer", func() { fn(snap) })
	}
}

// safeCall runs a collaborator callback and swallows panics.
func (c *Controller) safeCall(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", "callback", name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
