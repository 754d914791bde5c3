// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIError is a non-2xx response from the chat API. It matches the
// chatstore sentinel errors its status code stands for, so callers can use
// errors.Is the same way against a local or a remote store.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chat API returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case chatstore.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case chatstore.ErrAlreadyExists:
		return e.StatusCode == http.StatusConflict
	case chatstore.ErrInvalidID:
		return e.StatusCode == http.StatusBadRequest
	case chatstore.ErrInvalidScope:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Client is a chatstore.Store backed by a remote chat API. The scope passed
// to each call is sent as the organization and user headers.
type Client struct {
	baseURL string
	doer    persistence.HTTPDoer
}

// NewClient returns a client for the API at baseURL. A nil doer gets an
// otelhttp-instrumented client with a 30s timeout.
func NewClient(baseURL string, doer persistence.HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), doer: doer}
}

func (c *Client) CreateChat(ctx context.Context, scope chatstore.Scope, id, title string) (string, error) {
	var resp datatypes.IDResponse
	req := datatypes.CreateChatRequest{ID: id, Title: title}
	if err := c.do(ctx, scope, http.MethodPost, "/v1/chats", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) ListChats(ctx context.Context, scope chatstore.Scope, limit int) ([]datatypes.ChatSummary, error) {
	path := "/v1/chats"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var chats []datatypes.ChatSummary
	if err := c.do(ctx, scope, http.MethodGet, path, nil, &chats); err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []datatypes.ChatSummary{}
	}
	return chats, nil
}

func (c *Client) GetMessages(ctx context.Context, scope chatstore.Scope, chatID string) (datatypes.ChatMessages, error) {
	var msgs datatypes.ChatMessages
	if err := c.do(ctx, scope, http.MethodGet, messagesPath(chatID), nil, &msgs); err != nil {
		return datatypes.ChatMessages{}, err
	}
	return msgs, nil
}

func (c *Client) AddMessage(ctx context.Context, scope chatstore.Scope, chatID string, req datatypes.AddMessageRequest) (string, error) {
	var resp datatypes.IDResponse
	if err := c.do(ctx, scope, http.MethodPost, messagesPath(chatID), req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Close is a no-op; the client holds no resources of its own.
func (c *Client) Close() error { return nil }

func messagesPath(chatID string) string {
	return "/v1/chats/" + url.PathEscape(chatID) + "/messages"
}

func (c *Client) do(ctx context.Context, scope chatstore.Scope, method, path string, in, out any) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(persistence.HeaderOrganizationID, scope.OrganizationID)
	req.Header.Set(persistence.HeaderUserID, scope.UserID)

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

var _ chatstore.Store = (*Client)(nil)
