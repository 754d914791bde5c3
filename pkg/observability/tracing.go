// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by chat turns.
const InstrumentationName = "github.com/AleutianAI/AleutianDocChat"

// ErrTracingDisabled is returned by InitTracing when no exporter is selected.
var ErrTracingDisabled = errors.New("tracing disabled")

// TracingConfig selects where spans go.
type TracingConfig struct {
	// ServiceName is set as the service.name resource attribute.
	ServiceName string

	// Endpoint is an OTLP/gRPC collector address ("host:port"). When set it
	// takes precedence over Stdout.
	Endpoint string

	// Insecure disables TLS to Endpoint.
	Insecure bool

	// Stdout enables the stdout span exporter.
	Stdout bool

	// Writer receives stdout spans. Defaults to os.Stderr so spans do not
	// interleave with chat output.
	Writer io.Writer
}

// Tracer returns the tracer for the given provider, or the global one when
// tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// InitTracing installs a global tracer provider and returns its shutdown
// function. Spans go to the OTLP collector at cfg.Endpoint when one is
// set, else to stdout when cfg.Stdout is set. Returns ErrTracingDisabled
// when neither is; the global no-op provider stays in place in that case.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return func(context.Context) error { return nil }, ErrTracingDisabled
	}

	name := cfg.ServiceName
	if name == "" {
		name = "docchat"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch {
	case cfg.Endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter for %s: %w", cfg.Endpoint, err)
		}
		return exporter, nil
	case cfg.Stdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, nil
	}
}
