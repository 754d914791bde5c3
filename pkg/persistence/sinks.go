// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Headers that scope chat API calls to an organization and user.
const (
	HeaderOrganizationID = "X-Organization-Id"
	HeaderUserID         = "X-User-Id"
)

// StoreSink writes messages of one chat directly to a chatstore.Store.
type StoreSink struct {
	Store  chatstore.Store
	Scope  chatstore.Scope
	ChatID string
}

// AddMessage validates req and appends it to the chat.
func (s StoreSink) AddMessage(ctx context.Context, req datatypes.AddMessageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.Store.AddMessage(ctx, s.Scope, s.ChatID, req); err != nil {
		return err
	}
	return nil
}

// HTTPDoer is the subset of *http.Client used by HTTPSink.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSink posts messages of one chat to the chat API.
type HTTPSink struct {
	doer  HTTPDoer
	url   string
	scope chatstore.Scope
}

// NewHTTPSink returns a sink posting to {baseURL}/v1/chats/{chatID}/messages.
// A nil doer gets an otelhttp-instrumented client with a 30s timeout.
func NewHTTPSink(baseURL string, scope chatstore.Scope, chatID string, doer HTTPDoer) *HTTPSink {
	if doer == nil {
		doer = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPSink{
		doer:  doer,
		url:   strings.TrimRight(baseURL, "/") + "/v1/chats/" + url.PathEscape(chatID) + "/messages",
		scope: scope,
	}
}

// AddMessage POSTs req as JSON. Any non-2xx status is an error.
func (s *HTTPSink) AddMessage(ctx context.Context, req datatypes.AddMessageRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderOrganizationID, s.scope.OrganizationID)
	httpReq.Header.Set(HeaderUserID, s.scope.UserID)

	resp, err := s.doer.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var (
	_ Sink = StoreSink{}
	_ Sink = (*HTTPSink)(nil)
)
