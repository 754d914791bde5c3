// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import "github.com/AleutianAI/AleutianDocChat/pkg/datatypes"

// Kind is the wire discriminator carried in every event's "type" field.
type Kind string

const (
	KindThinking     Kind = "thinking"
	KindThinkingDone Kind = "thinking_done"
	KindChunk        Kind = "chunk"
	KindCitation     Kind = "citation"
	KindDone         Kind = "done"
)

// Event is one decoded protocol event. The concrete type is one of
// Thinking, ThinkingDone, Chunk, Citation or Done; switch on it with a type
// switch. The set is closed: only this package can add variants.
type Event interface {
	// Kind returns the wire discriminator for the event.
	Kind() Kind
	isEvent()
}

// Thinking carries incremental reasoning text shown apart from the answer.
type Thinking struct {
	Content string
}

// ThinkingDone marks the end of the reasoning phase.
type ThinkingDone struct{}

// Chunk carries incremental answer text.
type Chunk struct {
	Content string
}

// Citation carries one complete citation record.
type Citation struct {
	Citation datatypes.Citation
}

// Done is the terminal marker. Nothing after it is consumed.
type Done struct{}

func (Thinking) Kind() Kind     { return KindThinking }
func (ThinkingDone) Kind() Kind { return KindThinkingDone }
func (Chunk) Kind() Kind        { return KindChunk }
func (Citation) Kind() Kind     { return KindCitation }
func (Done) Kind() Kind         { return KindDone }

func (Thinking) isEvent()     {}
func (ThinkingDone) isEvent() {}
func (Chunk) isEvent()        {}
func (Citation) isEvent()     {}
func (Done) isEvent()         {}

var (
	_ Event = Thinking{}
	_ Event = ThinkingDone{}
	_ Event = Chunk{}
	_ Event = Citation{}
	_ Event = Done{}
)
