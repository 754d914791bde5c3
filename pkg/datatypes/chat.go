// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire and domain types shared by the DocChat
// stream client, the chat store, and the chat history API.
//
// # Validation
//
// Request types carry `validate` tags and expose a Validate method backed by
// a package-level go-playground validator. Callers bind JSON first and then
// call Validate; the validator instance is safe for concurrent use.
package datatypes

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxQueryBytes bounds a single user query. The answering service rejects
// anything larger, so the client refuses to send it.
const MaxQueryBytes = 32 * 1024

// MaxTopK is the largest retrieval depth a client may request.
const MaxTopK = 50

// chatValidate is the shared validator for every request type in this package.
var chatValidate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes enforces MaxQueryBytes on a string field. Byte length is
// what the upstream service limits, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Roles and Messages
// =============================================================================

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two supported roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Citation is one source reference attached to an assistant answer.
//
// Number is assigned by the answering service and is only meaningful as a
// key within a single turn's citation set. It is not an index: numbers can
// start anywhere, skip values, and arrive out of order.
//
// PageNumber and RelevanceScore use 0 for "unknown". FolderID is empty when
// the source did not report a folder.
type Citation struct {
	Number         int     `json:"number" validate:"gt=0"`
	DocumentID     string  `json:"documentId,omitempty"`
	DocumentName   string  `json:"documentName"`
	DocumentURL    string  `json:"documentUrl,omitempty"`
	PageNumber     int     `json:"pageNumber,omitempty" validate:"gte=0"`
	ChunkText      string  `json:"chunkText"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
	FolderID       string  `json:"folderId,omitempty"`
}

// Message is one entry of a conversation history.
//
// Messages are values and are never modified after being appended to a
// history. Assistant messages receive their citations when the turn
// finalizes; user messages never carry citations.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
}

// CloneCitations returns an independent copy of cs, or nil for an empty slice.
func CloneCitations(cs []Citation) []Citation {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Citation, len(cs))
	copy(out, cs)
	return out
}

// CloneMessages returns a deep copy of msgs so that callers holding the copy
// cannot observe later appends or mutate citation slices.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{
			Role:      m.Role,
			Content:   m.Content,
			Citations: CloneCitations(m.Citations),
		}
	}
	return out
}

// =============================================================================
// Stream Request
// =============================================================================

// HistoryMessage is the role/content pair sent upstream as conversation
// history. Citations are never sent back to the answering service.
type HistoryMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// Filters narrows retrieval to a subset of the organization's documents.
type Filters struct {
	FolderIDs     []string `json:"folder_ids,omitempty" validate:"omitempty,dive,required"`
	DocumentNames []string `json:"document_names,omitempty" validate:"omitempty,dive,required"`
}

// Empty reports whether the filter would not narrow anything.
func (f *Filters) Empty() bool {
	return f == nil || (len(f.FolderIDs) == 0 && len(f.DocumentNames) == 0)
}

// StreamRequest is the body POSTed to the answering service's stream endpoint.
type StreamRequest struct {
	OrganizationID      string           `json:"organization_id" validate:"required"`
	Query               string           `json:"query" validate:"required,notblank,maxbytes"`
	ConversationHistory []HistoryMessage `json:"conversation_history" validate:"dive"`
	Filters             *Filters         `json:"filters,omitempty"`
	TopK                int              `json:"top_k,omitempty" validate:"gte=0,lte=50"`
}

// Validate checks the request against its struct tags.
//
// Returns a wrapped validator.ValidationErrors on failure so callers can
// inspect individual field errors with errors.As.
func (r *StreamRequest) Validate() error {
	if !utf8.ValidString(r.Query) {
		return fmt.Errorf("validate stream request: query is not valid UTF-8")
	}
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("validate stream request: %w", err)
	}
	return nil
}

// ToHistory converts a message history into the upstream wire form.
func ToHistory(msgs []Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// =============================================================================
// Chat API payloads
// =============================================================================

// ChatSummary is a row of the chat list.
type ChatSummary struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// CreateChatRequest creates a chat. An empty ID asks the server to assign one.
type CreateChatRequest struct {
	ID    string `json:"id,omitempty" validate:"omitempty,max=64"`
	Title string `json:"title,omitempty" validate:"omitempty,max=200"`
}

// Validate checks the request against its struct tags.
func (r *CreateChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("validate create chat request: %w", err)
	}
	return nil
}

// AddMessageRequest appends one message to a chat. Citations are only
// accepted on assistant messages. Content has no size limit: answers are
// stored as the service produced them.
type AddMessageRequest struct {
	Role      Role       `json:"role" validate:"required,oneof=user assistant"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty" validate:"omitempty,dive"`
}

// Validate checks the request against its struct tags and the role rule.
func (r *AddMessageRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("validate add message request: %w", err)
	}
	if r.Role == RoleUser && len(r.Citations) > 0 {
		return fmt.Errorf("validate add message request: user messages cannot carry citations")
	}
	return nil
}

// ChatMessages is the getMessages response: the full ordered history, the
// citations of the most recent assistant message, and the owning
// organization. An unknown chat yields an empty value with no organization.
type ChatMessages struct {
	Messages       []Message  `json:"messages"`
	Citations      []Citation `json:"citations"`
	OrganizationID string     `json:"organization_id"`
}

// IDResponse is returned by create endpoints.
type IDResponse struct {
	ID string `json:"id"`
}
