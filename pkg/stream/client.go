// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StreamPath is appended to the configured base URL.
const StreamPath = "/chat/stream"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 2048

// ErrUnexpectedStatus matches every *StatusError with errors.Is.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// StatusError reports a non-2xx response from the stream endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrUnexpectedStatus) true for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// HTTPDoer is the subset of *http.Client the stream client needs. Tests
// substitute a fake.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport opens the answer stream for one request. The returned body is
// owned by the caller, who must close it.
type Transport interface {
	OpenStream(ctx context.Context, req datatypes.StreamRequest) (io.ReadCloser, error)
}

// ClientConfig configures a Client. Only BaseURL is required.
type ClientConfig struct {
	// BaseURL of the answering service API, e.g. "http://localhost:4001/api/v1".
	BaseURL string

	// Timeout bounds the whole request including streaming. Default 5 minutes.
	Timeout time.Duration

	// HTTPClient overrides the default instrumented client.
	HTTPClient HTTPDoer

	// Headers are added to every request (e.g. an API key header).
	Headers map[string]string

	// Logger receives request-level logs. Default slog.Default().
	Logger *slog.Logger
}

// Client is the HTTP Transport for the answering service.
type Client struct {
	doer    HTTPDoer
	url     string
	headers map[string]string
	logger  *slog.Logger
}

// NewClient creates a Client. Without an explicit HTTPClient it builds one
// whose transport is wrapped with otelhttp so each stream request gets a
// client span.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		doer:    doer,
		url:     strings.TrimRight(cfg.BaseURL, "/") + StreamPath,
		headers: cfg.Headers,
		logger:  logger,
	}
}

// OpenStream validates and POSTs req and returns the event-stream body.
//
// # Outputs
//
//   - io.ReadCloser: the response body, positioned at the first frame.
//   - error: validation failure, transport failure, or *StatusError for a
//     non-2xx response. Context cancellation surfaces as an error wrapping
//     ctx.Err().
func (c *Client) OpenStream(ctx context.Context, req datatypes.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("stream request cancelled", "url", c.url, "error", err)
		} else {
			c.logger.Error("stream HTTP request failed",
				"url", c.url,
				"error", err,
			)
		}
		return nil, fmt.Errorf("http post: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("stream endpoint returned error",
			"url", c.url,
			"status_code", resp.StatusCode,
			"response_body", string(snippet),
		)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	return resp.Body, nil
}

var _ Transport = (*Client)(nil)
