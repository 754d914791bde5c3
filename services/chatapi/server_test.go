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
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router  *gin.Engine
	store   *chatstore.MemoryStore
	metrics *observability.APIMetrics
	reg     *prometheus.Registry
}

func newTestAPI(t *testing.T, ratePerSecond float64, burst int) *testAPI {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewAPIMetrics(reg)
	store := chatstore.NewMemoryStore()
	return &testAPI{
		router: NewRouter(Config{
			Store:         store,
			Metrics:       metrics,
			Gatherer:      reg,
			RatePerSecond: ratePerSecond,
			Burst:         burst,
		}),
		store:   store,
		metrics: metrics,
		reg:     reg,
	}
}

func (a *testAPI) do(method, path, org, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if org != "" {
		req.Header.Set(persistence.HeaderOrganizationID, org)
	}
	if user != "" {
		req.Header.Set(persistence.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestChatAPI_CreateListAndMessages(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	w := api.do(http.MethodPost, "/v1/chats", "org-1", "alice", datatypes.CreateChatRequest{Title: "Budget"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chatID := decode[datatypes.IDResponse](t, w).ID
	require.NotEmpty(t, chatID)

	w = api.do(http.MethodPost, "/v1/chats/"+chatID+"/messages", "org-1", "alice",
		datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "What changed?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cits := []datatypes.Citation{{Number: 3, DocumentName: "q3.pdf", PageNumber: 7, ChunkText: "Revenue grew"}}
	w = api.do(http.MethodPost, "/v1/chats/"+chatID+"/messages", "org-1", "alice",
		datatypes.AddMessageRequest{Role: datatypes.RoleAssistant, Content: "Revenue grew [3].", Citations: cits})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/v1/chats", "org-1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []datatypes.ChatSummary{{ID: chatID, Title: "Budget"}}, decode[[]datatypes.ChatSummary](t, w))

	w = api.do(http.MethodGet, "/v1/chats/"+chatID+"/messages", "org-1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[datatypes.ChatMessages](t, w)
	assert.Equal(t, "org-1", got.OrganizationID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Revenue grew [3].", got.Messages[1].Content)
	assert.Equal(t, cits, got.Citations)
}

func TestChatAPI_AcceptsSparseCitationsAndLongAnswers(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	w := api.do(http.MethodPost, "/v1/chats", "org-1", "alice", datatypes.CreateChatRequest{ID: "c1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	long := strings.Repeat("x", datatypes.MaxQueryBytes*2)
	w = api.do(http.MethodPost, "/v1/chats/c1/messages", "org-1", "alice", datatypes.AddMessageRequest{
		Role:      datatypes.RoleAssistant,
		Content:   long,
		Citations: []datatypes.Citation{{Number: 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := decode[datatypes.ChatMessages](t, api.do(http.MethodGet, "/v1/chats/c1/messages", "org-1", "alice", nil))
	require.Len(t, got.Messages, 1)
	assert.Len(t, got.Messages[0].Content, len(long))
	assert.Equal(t, []datatypes.Citation{{Number: 1}}, got.Citations)
}

func TestChatAPI_ForeignChatLooksEmpty(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	_, err := api.store.CreateChat(context.Background(), chatstore.Scope{OrganizationID: "org-1", UserID: "alice"}, "c1", "")
	require.NoError(t, err)

	w := api.do(http.MethodGet, "/v1/chats/c1/messages", "org-1", "mallory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[],"citations":[],"organization_id":""}`, w.Body.String())

	w = api.do(http.MethodPost, "/v1/chats/c1/messages", "org-1", "mallory",
		datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatAPI_Validation(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	_, err := api.store.CreateChat(context.Background(), chatstore.Scope{OrganizationID: "org-1", UserID: "alice"}, "c1", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		org    string
		user   string
		body   any
		status int
	}{
		{"missing scope", http.MethodGet, "/v1/chats", "", "", nil, http.StatusUnauthorized},
		{"missing user", http.MethodGet, "/v1/chats", "org-1", "", nil, http.StatusUnauthorized},
		{"bad limit", http.MethodGet, "/v1/chats?limit=-1", "org-1", "alice", nil, http.StatusBadRequest},
		{"bad role", http.MethodPost, "/v1/chats/c1/messages", "org-1", "alice", map[string]string{"role": "system", "content": "x"}, http.StatusBadRequest},
		{"user citations", http.MethodPost, "/v1/chats/c1/messages", "org-1", "alice",
			datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "x", Citations: []datatypes.Citation{{Number: 1, DocumentName: "a"}}},
			http.StatusBadRequest},
		{"duplicate chat", http.MethodPost, "/v1/chats", "org-1", "alice", datatypes.CreateChatRequest{ID: "c1"}, http.StatusConflict},
		{"bad chat id", http.MethodPost, "/v1/chats", "org-1", "alice", datatypes.CreateChatRequest{ID: "a b"}, http.StatusBadRequest},
		{"unknown chat", http.MethodPost, "/v1/chats/nope/messages", "org-1", "alice",
			datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.org, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestChatAPI_MalformedJSON(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	req := httptest.NewRequest(http.MethodPost, "/v1/chats", strings.NewReader("{"))
	req.Header.Set(persistence.HeaderOrganizationID, "org-1")
	req.Header.Set(persistence.HeaderUserID, "alice")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatAPI_CreateWithoutBody(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	w := api.do(http.MethodPost, "/v1/chats", "org-1", "alice", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode[datatypes.IDResponse](t, w).ID, 36)
}

func TestChatAPI_RateLimitPerOrganization(t *testing.T) {
	api := newTestAPI(t, 0.001, 2)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/chats", "org-1", "alice", nil).Code)
	}
	w := api.do(http.MethodGet, "/v1/chats", "org-1", "bob", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/chats", "org-2", "alice", nil).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(api.metrics.RateLimitedTotal.WithLabelValues("GET /v1/chats")))
}

func TestChatAPI_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, 0, 0)

	w := api.do(http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	api.do(http.MethodGet, "/v1/chats", "org-1", "alice", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(api.metrics.RequestsTotal.WithLabelValues("GET /v1/chats", "200")))

	w = api.do(http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docchat_api_requests_total")
}

// A finished turn persisted through the HTTP bridge reopens as a seeded
// session with the answer's citations attached.
func TestChatAPI_RoundTripThroughBridge(t *testing.T) {
	api := newTestAPI(t, 0, 0)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	scope := chatstore.Scope{OrganizationID: "org-1", UserID: "alice"}
	_, err := api.store.CreateChat(context.Background(), scope, "c1", "")
	require.NoError(t, err)

	bridge := persistence.NewAsyncBridge(persistence.NewHTTPSink(srv.URL, scope, "c1", srv.Client()), persistence.AsyncConfig{})
	cits := []datatypes.Citation{{Number: 1, DocumentName: "a.pdf"}}
	bridge.OnUserMessage("q")
	bridge.OnAssistantComplete("answer [1]", cits)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bridge.Close(ctx))

	saved, err := api.store.GetMessages(context.Background(), scope, "c1")
	require.NoError(t, err)
	session := conversation.NewSession(conversation.Seed{History: saved.Messages, Citations: saved.Citations})
	snap := session.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, cits, snap.History[1].Citations)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", Config{Store: chatstore.NewMemoryStore(), Gatherer: prometheus.NewRegistry()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.False(t, errors.Is(err, context.Canceled))
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestOrgLimiter_BoundsTrackedOrganizations(t *testing.T) {
	l := newOrgLimiter(1, 1, 2, nil)
	first := l.get("org-0")
	for i := 1; i < 100; i++ {
		l.get("org-" + strconv.Itoa(i))
	}
	assert.Equal(t, 2, l.limiters.Len())

	recent := l.get("org-99")
	assert.Same(t, recent, l.get("org-99"), "a recently seen organization keeps its bucket")
	assert.NotSame(t, first, l.get("org-0"), "an evicted organization gets a fresh bucket")
}
