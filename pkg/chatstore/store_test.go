// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Scope{OrganizationID: "org-1", UserID: "alice"}
	bob   = Scope{OrganizationID: "org-1", UserID: "bob"}
)

// fakeClock advances one second per call.
func fakeClock() func() time.Time {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// storeFactories returns every implementation under test.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store {
			s := NewMemoryStore()
			s.now = fakeClock()
			return s
		},
		"badger": func() Store {
			s, err := OpenBadger(InMemoryBadgerConfig())
			require.NoError(t, err)
			s.now = fakeClock()
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_CreateAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.CreateChat(ctx, alice, "", "first")
		require.NoError(t, err)
		assert.Len(t, first, 36)

		second, err := s.CreateChat(ctx, alice, "chat-2", "second")
		require.NoError(t, err)
		assert.Equal(t, "chat-2", second)

		_, err = s.CreateChat(ctx, bob, "chat-bob", "")
		require.NoError(t, err)
		_, err = s.CreateChat(ctx, Scope{OrganizationID: "org-2", UserID: "alice"}, "chat-other-org", "")
		require.NoError(t, err)

		chats, err := s.ListChats(ctx, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, []datatypes.ChatSummary{
			{ID: "chat-2", Title: "second"},
			{ID: first, Title: "first"},
		}, chats)
	})
}

func TestStore_ListOrdersByLastUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := s.CreateChat(ctx, alice, id, "")
			require.NoError(t, err)
		}
		_, err := s.AddMessage(ctx, alice, "a", datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "hi"})
		require.NoError(t, err)

		chats, err := s.ListChats(ctx, alice, 2)
		require.NoError(t, err)
		require.Len(t, chats, 2)
		assert.Equal(t, "a", chats[0].ID)
		assert.Equal(t, "c", chats[1].ID)
	})
}

func TestStore_ListLimitCapped(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < DefaultListLimit+5; i++ {
			_, err := s.CreateChat(ctx, alice, fmt.Sprintf("chat-%02d", i), "")
			require.NoError(t, err)
		}
		chats, err := s.ListChats(ctx, alice, 500)
		require.NoError(t, err)
		assert.Len(t, chats, DefaultListLimit)
	})
}

func TestStore_DuplicateChat(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateChat(ctx, alice, "dup", "")
		require.NoError(t, err)
		_, err = s.CreateChat(ctx, bob, "dup", "")
		assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)
	})
}

func TestStore_InvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateChat(ctx, Scope{OrganizationID: "org-1"}, "x", "")
		assert.True(t, errors.Is(err, ErrInvalidScope))

		_, err = s.CreateChat(ctx, alice, "a/b", "")
		assert.True(t, errors.Is(err, ErrInvalidID))

		_, err = s.ListChats(ctx, Scope{UserID: "alice"}, 10)
		assert.True(t, errors.Is(err, ErrInvalidScope))
	})
}

func TestStore_GetMessagesReturnsLastAssistantCitations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateChat(ctx, alice, "c1", "")
		require.NoError(t, err)

		early := []datatypes.Citation{{Number: 1, DocumentName: "old.pdf"}}
		late := []datatypes.Citation{
			{Number: 4, DocumentName: "b.pdf", PageNumber: 2, ChunkText: "snippet"},
			{Number: 2, DocumentName: "a.pdf"},
		}
		reqs := []datatypes.AddMessageRequest{
			{Role: datatypes.RoleUser, Content: "q1"},
			{Role: datatypes.RoleAssistant, Content: "a1 [1]", Citations: early},
			{Role: datatypes.RoleUser, Content: "q2"},
			{Role: datatypes.RoleAssistant, Content: "a2 [4][2]", Citations: late},
			{Role: datatypes.RoleUser, Content: "q3"},
		}
		for _, r := range reqs {
			id, err := s.AddMessage(ctx, alice, "c1", r)
			require.NoError(t, err)
			assert.NotEmpty(t, id)
		}

		got, err := s.GetMessages(ctx, alice, "c1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", got.OrganizationID)
		require.Len(t, got.Messages, 5)
		for i, r := range reqs {
			assert.Equal(t, r.Role, got.Messages[i].Role)
			assert.Equal(t, r.Content, got.Messages[i].Content)
			assert.Empty(t, got.Messages[i].Citations)
		}
		assert.Equal(t, late, got.Citations)
	})
}

func TestStore_GetMessagesHidesForeignAndUnknownChats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateChat(ctx, alice, "private", "")
		require.NoError(t, err)
		_, err = s.AddMessage(ctx, alice, "private", datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "secret"})
		require.NoError(t, err)

		for _, tc := range []struct {
			name   string
			scope  Scope
			chatID string
		}{
			{"other user", bob, "private"},
			{"unknown chat", alice, "missing"},
		} {
			got, err := s.GetMessages(ctx, tc.scope, tc.chatID)
			require.NoError(t, err, tc.name)
			assert.Empty(t, got.OrganizationID, tc.name)
			assert.NotNil(t, got.Messages, tc.name)
			assert.Empty(t, got.Messages, tc.name)
			assert.NotNil(t, got.Citations, tc.name)
		}
	})
}

func TestStore_AddMessageRequiresOwnership(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CreateChat(ctx, alice, "c1", "")
		require.NoError(t, err)

		_, err = s.AddMessage(ctx, bob, "c1", datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "x"})
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		_, err = s.AddMessage(ctx, alice, "nope", datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "x"})
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})
}

func TestStore_CancelledContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.CreateChat(ctx, alice, "", "")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, alice, "kept", "title")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, alice, "kept", datatypes.AddMessageRequest{Role: datatypes.RoleUser, Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetMessages(ctx, alice, "kept")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
