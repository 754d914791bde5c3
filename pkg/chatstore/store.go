// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatstore stores chats and their messages per organization and
// user.
//
// Two implementations share one contract: MemoryStore for tests and
// single-process use, and BadgerStore for a local embedded database.
// Reads scoped to a chat the caller does not own behave as if the chat did
// not exist.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/google/uuid"
)

// DefaultListLimit caps ListChats when the caller passes a limit <= 0.
const DefaultListLimit = 50

var (
	// ErrNotFound is returned for unknown chats and chats owned by another
	// user.
	ErrNotFound = errors.New("chat not found")

	// ErrAlreadyExists is returned by CreateChat for a duplicate id.
	ErrAlreadyExists = errors.New("chat already exists")

	// ErrInvalidScope is returned when the organization or user is empty.
	ErrInvalidScope = errors.New("organization and user are required")

	// ErrInvalidID is returned for chat ids that cannot be stored.
	ErrInvalidID = errors.New("invalid chat id")
)

// maxIDLength bounds caller-supplied chat ids.
const maxIDLength = 64

// validateChatID rejects ids that are too long or contain a path separator,
// which would break key prefixes.
func validateChatID(id string) error {
	if len(id) > maxIDLength || strings.ContainsAny(id, "/ ") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Scope identifies the caller. Auth happens outside this package.
type Scope struct {
	OrganizationID string
	UserID         string
}

// Validate returns ErrInvalidScope for an incomplete scope.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.OrganizationID) == "" || strings.TrimSpace(s.UserID) == "" {
		return ErrInvalidScope
	}
	return nil
}

// Store is the chat persistence contract.
type Store interface {
	// CreateChat creates a chat owned by scope. An empty id is replaced
	// by a generated UUIDv7. Returns the chat id.
	CreateChat(ctx context.Context, scope Scope, id, title string) (string, error)

	// ListChats returns the caller's chats in scope's organization, most
	// recently updated first, at most limit (DefaultListLimit if <= 0).
	ListChats(ctx context.Context, scope Scope, limit int) ([]datatypes.ChatSummary, error)

	// GetMessages returns the chat's messages oldest first and the
	// citations of the last assistant message. An unknown chat or one
	// owned by another user yields an empty result, not an error.
	GetMessages(ctx context.Context, scope Scope, chatID string) (datatypes.ChatMessages, error)

	// AddMessage appends a message and returns its id. Returns ErrNotFound
	// if the caller does not own the chat.
	AddMessage(ctx context.Context, scope Scope, chatID string, req datatypes.AddMessageRequest) (string, error)

	Close() error
}

// chatRecord is the stored form of a chat.
type chatRecord struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// messageRecord is the stored form of a message.
type messageRecord struct {
	ID        string               `json:"id"`
	ChatID    string               `json:"chat_id"`
	Role      datatypes.Role       `json:"role"`
	Content   string               `json:"content"`
	Citations []datatypes.Citation `json:"citations,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

func (r chatRecord) ownedBy(scope Scope) bool {
	return r.UserID == scope.UserID
}

func (r chatRecord) listedFor(scope Scope) bool {
	return r.UserID == scope.UserID && r.OrganizationID == scope.OrganizationID
}

// emptyMessages is the result for chats the caller cannot see.
func emptyMessages() datatypes.ChatMessages {
	return datatypes.ChatMessages{
		Messages:  []datatypes.Message{},
		Citations: []datatypes.Citation{},
	}
}

// buildMessages assembles a GetMessages result from ordered records.
func buildMessages(chat chatRecord, records []messageRecord) datatypes.ChatMessages {
	out := datatypes.ChatMessages{
		Messages:       make([]datatypes.Message, 0, len(records)),
		Citations:      []datatypes.Citation{},
		OrganizationID: chat.OrganizationID,
	}
	lastAssistant := -1
	for i, r := range records {
		out.Messages = append(out.Messages, datatypes.Message{Role: r.Role, Content: r.Content})
		if r.Role == datatypes.RoleAssistant {
			lastAssistant = i
		}
	}
	if lastAssistant >= 0 && len(records[lastAssistant].Citations) > 0 {
		out.Citations = datatypes.CloneCitations(records[lastAssistant].Citations)
	}
	return out
}

// newID returns a time-ordered UUIDv7 string.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
