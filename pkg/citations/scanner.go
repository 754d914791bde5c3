// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citations finds inline citation markers ("[3]") in answer text and
// resolves them against a turn's citation list.
//
// Parsing and resolution are separate steps. A Scanner splits text into
// segments once, incrementally, as chunks stream in. Resolve then maps
// marker segments to citations and is cheap enough to call on every render,
// so a marker that streamed in before its citation becomes enriched as soon
// as the citation arrives, without re-scanning the text.
package citations

import (
	"strconv"
	"strings"
)

// maxMarkerDigits bounds how long a run of digits inside brackets may be
// and still count as a marker. Longer runs are plain text.
const maxMarkerDigits = 9

// SegmentKind distinguishes plain text from citation markers.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentMarker
)

// Segment is a run of plain text or one citation marker.
//
// For markers, Text holds the raw marker ("[3]") and Number its value.
type Segment struct {
	Kind   SegmentKind
	Text   string
	Number int
}

// Scanner splits streamed text into segments incrementally.
//
// Feed accepts each new chunk. Completed segments are never revisited; only
// a trailing "[" followed by digits is held back until the next chunk shows
// whether it closes into a marker. The zero value is ready to use.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	segments []Segment
	pending  string
}

// Feed appends delta to the scanned text.
func (s *Scanner) Feed(delta string) {
	if delta == "" {
		return
	}
	work := s.pending + delta
	s.pending = ""

	for len(work) > 0 {
		open := strings.IndexByte(work, '[')
		if open < 0 {
			s.appendText(work)
			return
		}
		s.appendText(work[:open])
		work = work[open:]

		num, width, state := matchMarker(work)
		switch state {
		case markerComplete:
			s.segments = append(s.segments, Segment{Kind: SegmentMarker, Text: work[:width], Number: num})
			work = work[width:]
		case markerIncomplete:
			s.pending = work
			return
		default:
			s.appendText("[")
			work = work[1:]
		}
	}
}

// Flush treats any held-back partial marker as plain text. Call it when the
// text is complete.
func (s *Scanner) Flush() {
	if s.pending != "" {
		s.appendText(s.pending)
		s.pending = ""
	}
}

// Segments returns the segments scanned so far. A held-back partial marker
// is included as trailing text so the caller can display everything it has
// received. The returned slice is a copy.
func (s *Scanner) Segments() []Segment {
	out := make([]Segment, len(s.segments), len(s.segments)+1)
	copy(out, s.segments)
	if s.pending != "" {
		if n := len(out); n > 0 && out[n-1].Kind == SegmentText {
			out[n-1].Text += s.pending
		} else {
			out = append(out, Segment{Kind: SegmentText, Text: s.pending})
		}
	}
	return out
}

// Reset discards all scanned text.
func (s *Scanner) Reset() {
	s.segments = nil
	s.pending = ""
}

// appendText adds text, merging with a preceding text segment.
func (s *Scanner) appendText(text string) {
	if text == "" {
		return
	}
	if n := len(s.segments); n > 0 && s.segments[n-1].Kind == SegmentText {
		s.segments[n-1].Text += text
		return
	}
	s.segments = append(s.segments, Segment{Kind: SegmentText, Text: text})
}

type markerState int

const (
	notMarker markerState = iota
	markerIncomplete
	markerComplete
)

// matchMarker inspects s, which starts with '['. It reports a complete
// marker with its value and byte width, an incomplete one that might still
// close when more text arrives, or no marker at all.
func matchMarker(s string) (int, int, markerState) {
	i := 1
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		if i-1 > maxMarkerDigits {
			return 0, 0, notMarker
		}
	}
	digits := i - 1
	if i == len(s) {
		return 0, 0, markerIncomplete
	}
	if digits == 0 || s[i] != ']' {
		return 0, 0, notMarker
	}
	n, err := strconv.Atoi(s[1:i])
	if err != nil {
		return 0, 0, notMarker
	}
	return n, i + 1, markerComplete
}

// Parse scans complete text in one call.
func Parse(text string) []Segment {
	var s Scanner
	s.Feed(text)
	s.Flush()
	return s.Segments()
}

// StablePrefix returns text without a trailing partial marker, the part a
// Scanner would hold back. Text up to the result will not change meaning
// when more is appended.
func StablePrefix(text string) string {
	open := strings.LastIndexByte(text, '[')
	if open < 0 {
		return text
	}
	if _, _, state := matchMarker(text[open:]); state == markerIncomplete {
		return text[:open]
	}
	return text
}

// Referenced returns the distinct marker numbers in text in order of first
// appearance.
func Referenced(text string) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, seg := range Parse(text) {
		if seg.Kind != SegmentMarker {
			continue
		}
		if _, ok := seen[seg.Number]; ok {
			continue
		}
		seen[seg.Number] = struct{}{}
		out = append(out, seg.Number)
	}
	return out
}
