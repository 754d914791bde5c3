// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation owns the state of one chat view and drives one
// question/answer turn at a time against a streaming answer service.
//
// A Session holds the history, the in-flight answer buffers and the turn's
// citations. A Controller is the only writer: it starts a turn, applies
// decoded stream events in arrival order, and ends the turn in exactly one
// of three ways (finalized, aborted, failed). Readers take a Snapshot,
// which is a deep copy and safe to keep.
package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianDocChat/pkg/citations"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// FailureMessage is the assistant reply appended when a turn fails.
const FailureMessage = "Sorry, an error occurred. Please try again."

// TurnState is the position of the session in the turn state machine.
type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateStreaming
	StateFinalizing
	StateAborted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	History          []datatypes.Message
	StreamingContent string
	// StreamingSegments is StreamingContent split into text and citation
	// markers. A trailing partial marker stays in the last text segment.
	StreamingSegments []citations.Segment
	ThinkingContent   string
	IsThinking        bool
	IsStreaming       bool
	Citations         []datatypes.Citation
	State             TurnState
}

// Seed is persisted state used to open a session on an existing chat.
type Seed struct {
	History []datatypes.Message
	// Citations belong to the most recent assistant message.
	Citations []datatypes.Citation
}

// Session is the mutable state of one conversation view. Only a Controller
// mutates it; Snapshot may be called from any goroutine.
type Session struct {
	mu sync.Mutex

	history    []datatypes.Message
	streaming  strings.Builder
	scanner    citations.Scanner
	thinking   strings.Builder
	isThinking bool
	// isStreaming is the single-turn gate.
	isStreaming bool
	citations   []datatypes.Citation
	cancel      context.CancelFunc
	state       TurnState
}

// NewSession returns an idle session seeded with persisted history. Seed
// citations become the session's citation list and are attached to the
// last assistant message when it carries none.
func NewSession(seed Seed) *Session {
	s := &Session{
		history:   datatypes.CloneMessages(seed.History),
		citations: datatypes.CloneCitations(seed.Citations),
	}
	if len(s.citations) > 0 {
		for i := len(s.history) - 1; i >= 0; i-- {
			if s.history[i].Role != datatypes.RoleAssistant {
				continue
			}
			if len(s.history[i].Citations) == 0 {
				s.history[i].Citations = datatypes.CloneCitations(s.citations)
			}
			break
		}
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsStreaming reports whether a turn is in flight.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStreaming
}

// State returns the current turn state.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		History:           datatypes.CloneMessages(s.history),
		StreamingContent:  s.streaming.String(),
		StreamingSegments: s.scanner.Segments(),
		ThinkingContent:   s.thinking.String(),
		IsThinking:        s.isThinking,
		IsStreaming:       s.isStreaming,
		Citations:         datatypes.CloneCitations(s.citations),
		State:             s.state,
	}
}

// begin starts a turn. It returns the history before the new user message
// and false when a turn is already in flight, in which case nothing
// changes.
func (s *Session) begin(query string, cancel context.CancelFunc) ([]datatypes.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isStreaming {
		return nil, false
	}

	prior := datatypes.CloneMessages(s.history)
	s.history = append(s.history, datatypes.Message{Role: datatypes.RoleUser, Content: query})
	s.streaming.Reset()
	s.scanner.Reset()
	s.thinking.Reset()
	s.isThinking = false
	s.citations = nil
	s.isStreaming = true
	s.cancel = cancel
	s.state = StateSending
	return prior, true
}

func (s *Session) setState(state TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) appendThinking(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isThinking = true
	s.thinking.WriteString(text)
}

func (s *Session) endThinking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isThinking = false
}

func (s *Session) appendChunk(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming.WriteString(text)
	s.scanner.Feed(text)
}

func (s *Session) appendCitation(c datatypes.Citation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citations = append(s.citations, c)
}

// finalize appends the assistant answer and returns what was appended.
func (s *Session) finalize() (string, []datatypes.Citation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content := s.streaming.String()
	cits := datatypes.CloneCitations(s.citations)
	s.history = append(s.history, datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   content,
		Citations: cits,
	})
	s.streaming.Reset()
	s.scanner.Reset()
	s.state = StateFinalizing
	return content, datatypes.CloneCitations(cits)
}

// abort ends the turn without touching history. The partial answer stays
// in the streaming buffer until the next turn starts.
func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanner.Flush()
	s.state = StateAborted
}

func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, datatypes.Message{
		Role:    datatypes.RoleAssistant,
		Content: FailureMessage,
	})
	s.streaming.Reset()
	s.scanner.Reset()
	s.state = StateFailed
}

func (s *Session) idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isStreaming = false
	s.isThinking = false
	s.cancel = nil
	s.state = StateIdle
}

// stop cancels the in-flight turn, if any.
func (s *Session) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
