// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for chat turns and the chat history API.
//
// # Metrics
//
// All metrics live under the "docchat" namespace:
//
//	docchat_turns_total{outcome}                  completed/aborted/failed/rejected
//	docchat_turn_duration_seconds{outcome}        send to idle
//	docchat_turn_time_to_first_chunk_seconds      send to first answer chunk
//	docchat_turn_citations                        citations per completed turn
//	docchat_turns_active                          0 or 1 per session
//	docchat_stream_events_total{kind}             decoded events by type
//	docchat_stream_malformed_frames_total         dropped frames
//	docchat_persistence_errors_total{operation}   failed bridge writes
//	docchat_api_requests_total{route,status}      chat API requests
//	docchat_api_request_duration_seconds{route}   chat API latency
//
// Constructors take a prometheus.Registerer so tests can use an isolated
// registry. Every method is nil-safe: a nil *TurnMetrics or *APIMetrics
// records nothing, which lets callers leave metrics unconfigured.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "docchat"

// TurnMetrics records the life of chat turns on the client side.
type TurnMetrics struct {
	TurnsTotal              *prometheus.CounterVec
	TurnDurationSeconds     *prometheus.HistogramVec
	TimeToFirstChunkSeconds prometheus.Histogram
	CitationsPerTurn        prometheus.Histogram
	ActiveTurns             prometheus.Gauge
	StreamEventsTotal       *prometheus.CounterVec
	MalformedFramesTotal    prometheus.Counter
	PersistenceErrorsTotal  *prometheus.CounterVec
}

// NewTurnMetrics registers turn metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewTurnMetrics(reg prometheus.Registerer) *TurnMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &TurnMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turns_total",
				Help:      "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "turn_duration_seconds",
				Help:      "Time from sending a query until the session is idle again",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		TimeToFirstChunkSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "turn_time_to_first_chunk_seconds",
				Help:      "Time from sending a query to the first answer chunk",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		CitationsPerTurn: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "turn_citations",
				Help:      "Citations attached to each completed answer",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "turns_active",
				Help:      "Turns currently streaming",
			},
		),
		StreamEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stream_events_total",
				Help:      "Decoded stream events by type",
			},
			[]string{"kind"},
		),
		MalformedFramesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stream_malformed_frames_total",
				Help:      "Data frames dropped because they could not be parsed",
			},
		),
		PersistenceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "persistence_errors_total",
				Help:      "Failed persistence bridge writes by operation",
			},
			[]string{"operation"},
		),
	}
}

// TurnStarted increments the active gauge.
func (m *TurnMetrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active gauge and records the outcome.
func (m *TurnMetrics) TurnEnded(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// TurnRejected counts a send that was refused without starting a turn.
func (m *TurnMetrics) TurnRejected() {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues("rejected").Inc()
}

// FirstChunk records time to the first answer chunk.
func (m *TurnMetrics) FirstChunk(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.Observe(elapsed.Seconds())
}

// Citations records how many citations a completed answer carried.
func (m *TurnMetrics) Citations(n int) {
	if m == nil {
		return
	}
	m.CitationsPerTurn.Observe(float64(n))
}

// Event counts one decoded event.
func (m *TurnMetrics) Event(kind string) {
	if m == nil {
		return
	}
	m.StreamEventsTotal.WithLabelValues(kind).Inc()
}

// MalformedFrame counts one dropped frame.
func (m *TurnMetrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFramesTotal.Inc()
}

// PersistenceError counts one failed bridge write.
func (m *TurnMetrics) PersistenceError(operation string) {
	if m == nil {
		return
	}
	m.PersistenceErrorsTotal.WithLabelValues(operation).Inc()
}

// APIMetrics records chat history API traffic.
type APIMetrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	RateLimitedTotal       *prometheus.CounterVec
}

// NewAPIMetrics registers API metrics with reg. A nil reg uses the default
// Prometheus registerer.
func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &APIMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Chat API requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Chat API request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-organization rate limiter",
			},
			[]string{"route"},
		),
	}
}

// Request records one completed API request.
func (m *APIMetrics) Request(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RateLimited counts one rejected request.
func (m *APIMetrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}
