// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]chatRecord
	messages map[string][]messageRecord
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]chatRecord),
		messages: make(map[string][]messageRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateChat(ctx context.Context, scope Scope, id, title string) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		generated, err := newID()
		if err != nil {
			return "", fmt.Errorf("generate chat id: %w", err)
		}
		id = generated
	} else if err := validateChatID(id); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[id]; exists {
		return "", fmt.Errorf("create chat %s: %w", id, ErrAlreadyExists)
	}
	now := s.now()
	s.chats[id] = chatRecord{
		ID:             id,
		OrganizationID: scope.OrganizationID,
		UserID:         scope.UserID,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

func (s *MemoryStore) ListChats(ctx context.Context, scope Scope, limit int) ([]datatypes.ChatSummary, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := make([]chatRecord, 0, len(s.chats))
	for _, c := range s.chats {
		if c.listedFor(scope) {
			records = append(records, c)
		}
	}
	s.mu.RUnlock()

	return summarize(records, limit), nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, scope Scope, chatID string) (datatypes.ChatMessages, error) {
	if err := scope.Validate(); err != nil {
		return datatypes.ChatMessages{}, err
	}
	if err := ctx.Err(); err != nil {
		return datatypes.ChatMessages{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok || !chat.ownedBy(scope) {
		return emptyMessages(), nil
	}
	return buildMessages(chat, s.messages[chatID]), nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, scope Scope, chatID string, req datatypes.AddMessageRequest) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || !chat.ownedBy(scope) {
		return "", fmt.Errorf("add message to %s: %w", chatID, ErrNotFound)
	}
	now := s.now()
	s.messages[chatID] = append(s.messages[chatID], messageRecord{
		ID:        id,
		ChatID:    chatID,
		Role:      req.Role,
		Content:   req.Content,
		Citations: datatypes.CloneCitations(req.Citations),
		CreatedAt: now,
	})
	chat.UpdatedAt = now
	s.chats[chatID] = chat
	return id, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// summarize orders chats newest-updated first and applies the limit.
func summarize(records []chatRecord, limit int) []datatypes.ChatSummary {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	limit = clampLimit(limit)
	if len(records) > limit {
		records = records[:limit]
	}
	out := make([]datatypes.ChatSummary, 0, len(records))
	for _, r := range records {
		out = append(out, datatypes.ChatSummary{ID: r.ID, Title: r.Title})
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
