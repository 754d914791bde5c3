// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream decodes the answering service's server-sent-event stream
// and opens that stream over HTTP.
//
// The layering mirrors the CLI streaming stack:
//
//	HTTP Response Body → Decoder (line framing) → Parser (frame → Event)
//
// Parsers ONLY parse. They do not perform I/O. The Decoder owns buffering,
// cancellation, and termination.
//
// # Wire Format
//
//	data: {"type":"thinking","content":"Looking at the sources"}
//	data: {"type":"thinking_done"}
//	data: {"type":"chunk","content":"Refunds take 5 days [1]."}
//	data: {"type":"citation","number":1,"source":{"document_id":"d1", ...}}
//	data: {"type":"done"}
//
// Lines without the "data: " prefix (blank separators, "event:" lines,
// ":" comments) carry no events and are skipped.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// FramePrefix starts every line that carries an event payload.
const FramePrefix = "data: "

var (
	// ErrNoFrame is returned by ParseLine for lines that carry no payload.
	// It is not a failure; decoders skip such lines.
	ErrNoFrame = errors.New("line carries no data frame")

	// ErrMalformedFrame wraps every structural parse failure of a payload.
	ErrMalformedFrame = errors.New("malformed data frame")
)

// Parser converts one line of the stream into an Event.
//
// Implementations must be safe for concurrent use.
type Parser interface {
	// ParseLine parses a single line without its trailing newline.
	//
	// Returns ErrNoFrame for lines that are not data frames and an error
	// wrapping ErrMalformedFrame for frames whose payload cannot be decoded.
	ParseLine(line string) (Event, error)
}

// sseParser is the default stateless Parser.
type sseParser struct{}

// NewParser returns the default Parser.
func NewParser() Parser {
	return sseParser{}
}

// wireSource is the nested "source" object of a citation event. Absent or
// null fields decode to their zero values.
type wireSource struct {
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	DocumentURL    string  `json:"document_url"`
	PageNumber     float64 `json:"page_number"`
	ChunkText      string  `json:"chunk_text"`
	RelevanceScore float64 `json:"relevance_score"`
	FolderID       string  `json:"folder_id"`
}

// wireEvent is the union of all fields any event type may carry.
type wireEvent struct {
	Type    Kind        `json:"type"`
	Content string      `json:"content"`
	Number  *float64    `json:"number"`
	Source  *wireSource `json:"source"`
}

// ParseLine implements Parser.
//
// Surrounding whitespace (including a CR from CRLF framing) is trimmed
// before the prefix check. An empty payload after the prefix is treated as
// no frame.
func (sseParser) ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, FramePrefix) {
		return nil, ErrNoFrame
	}
	payload := strings.TrimSpace(line[len(FramePrefix):])
	if payload == "" {
		return nil, ErrNoFrame
	}
	return parsePayload([]byte(payload))
}

func parsePayload(payload []byte) (Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch raw.Type {
	case KindThinking:
		return Thinking{Content: raw.Content}, nil
	case KindThinkingDone:
		return ThinkingDone{}, nil
	case KindChunk:
		return Chunk{Content: raw.Content}, nil
	case KindDone:
		return Done{}, nil
	case KindCitation:
		return parseCitation(raw)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, raw.Type)
	}
}

// parseCitation builds a Citation event. The number must be a positive
// integer and the source object must be present; every field inside the
// source is optional and defaults to its zero value.
func parseCitation(raw wireEvent) (Event, error) {
	if raw.Number == nil {
		return nil, fmt.Errorf("%w: citation without number", ErrMalformedFrame)
	}
	n := *raw.Number
	if n < 1 || n != float64(int(n)) {
		return nil, fmt.Errorf("%w: citation number %v is not a positive integer", ErrMalformedFrame, n)
	}
	if raw.Source == nil {
		return nil, fmt.Errorf("%w: citation %d without source", ErrMalformedFrame, int(n))
	}

	src := raw.Source
	c := datatypes.Citation{
		Number:         int(n),
		DocumentID:     src.DocumentID,
		DocumentName:   src.DocumentName,
		DocumentURL:    src.DocumentURL,
		PageNumber:     int(src.PageNumber),
		ChunkText:      src.ChunkText,
		RelevanceScore: src.RelevanceScore,
		FolderID:       src.FolderID,
	}
	return Citation{Citation: c}, nil
}
