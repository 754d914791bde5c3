// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citations

import (
	"testing"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

func marker(n int, raw string) Segment { return Segment{Kind: SegmentMarker, Text: raw, Number: n} }
func text(s string) Segment            { return Segment{Kind: SegmentText, Text: s} }

func segmentsEqual(a, b []Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Segment
	}{
		{"plain", "no markers here", []Segment{text("no markers here")}},
		{"single", "See [1].", []Segment{text("See "), marker(1, "[1]"), text(".")}},
		{"adjacent", "[2][10]", []Segment{marker(2, "[2]"), marker(10, "[10]")}},
		{"not digits", "array[i] and [ 1]", []Segment{text("array[i] and [ 1]")}},
		{"empty brackets", "[]", []Segment{text("[]")}},
		{"double open", "[[3]]", []Segment{text("["), marker(3, "[3]"), text("]")}},
		{"unclosed at end", "trailing [4", []Segment{text("trailing [4")}},
		{"too many digits", "[12345678901]", []Segment{text("[12345678901]")}},
		{"empty", "", []Segment{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if !segmentsEqual(got, tt.want) {
				t.Errorf("Parse(%q)\n got: %+v\nwant: %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScanner_MarkerSplitAcrossChunks(t *testing.T) {
	var s Scanner
	s.Feed("Refunds take five days [")
	s.Feed("1")

	// Partial marker is shown as text while it is held back.
	got := s.Segments()
	if !segmentsEqual(got, []Segment{text("Refunds take five days [1")}) {
		t.Fatalf("unexpected interim segments: %+v", got)
	}

	s.Feed("2] and more.")

	want := []Segment{text("Refunds take five days "), marker(12, "[12]"), text(" and more.")}
	if got := s.Segments(); !segmentsEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestScanner_IncrementalMatchesWholeParse(t *testing.T) {
	full := "Alpha [1] beta [[2]] gamma [3x] delta [40] end [5"

	for split := 1; split < len(full); split++ {
		var s Scanner
		for i := 0; i < len(full); i += split {
			end := min(i+split, len(full))
			s.Feed(full[i:end])
		}
		s.Flush()

		if got, want := s.Segments(), Parse(full); !segmentsEqual(got, want) {
			t.Fatalf("split %d: got %+v, want %+v", split, got, want)
		}
	}
}

func TestScanner_SegmentsIsACopy(t *testing.T) {
	var s Scanner
	s.Feed("a [1]")

	segs := s.Segments()
	segs[0].Text = "mutated"

	if s.Segments()[0].Text != "a " {
		t.Error("Segments must return a copy")
	}
}

func TestResolve_UnmatchedThenEnriched(t *testing.T) {
	var s Scanner
	s.Feed("Policy says [2].")
	segs := s.Segments()

	cits := []datatypes.Citation{{Number: 1, DocumentName: "one.pdf"}}

	first := Resolve(segs, cits)
	if first[1].Kind != SegmentMarker || first[1].Number != 2 {
		t.Fatalf("expected marker 2 at index 1, got %+v", first[1])
	}
	if first[1].Enriched() {
		t.Fatal("marker 2 must not resolve before its citation arrives")
	}

	cits = append(cits, datatypes.Citation{Number: 2, DocumentName: "two.pdf", PageNumber: 4})

	second := Resolve(segs, cits)
	if !second[1].Enriched() {
		t.Fatal("marker 2 must resolve once its citation is present")
	}
	if second[1].Citation.DocumentName != "two.pdf" {
		t.Errorf("resolved to wrong citation: %+v", second[1].Citation)
	}
	if second[0].Citation != nil || second[2].Citation != nil {
		t.Error("text segments must not carry citations")
	}
}

func TestResolve_NumbersAreOpaqueKeys(t *testing.T) {
	segs := Parse("[7] then [3]")
	cits := []datatypes.Citation{
		{Number: 7, DocumentName: "seven"},
		{Number: 3, DocumentName: "three"},
		{Number: 7, DocumentName: "duplicate"},
	}

	res := Resolve(segs, cits)

	if res[0].Citation.DocumentName != "seven" {
		t.Errorf("expected first citation numbered 7 to win, got %q", res[0].Citation.DocumentName)
	}
	if res[2].Citation.DocumentName != "three" {
		t.Errorf("expected citation 3, got %q", res[2].Citation.DocumentName)
	}
}

func TestReferencedAndUsed(t *testing.T) {
	answer := "A [3]. B [1][3]. C [9]."
	cits := []datatypes.Citation{
		{Number: 1, DocumentName: "one"},
		{Number: 2, DocumentName: "two"},
		{Number: 3, DocumentName: "three"},
	}

	refs := Referenced(answer)
	if len(refs) != 3 || refs[0] != 3 || refs[1] != 1 || refs[2] != 9 {
		t.Errorf("unexpected references: %v", refs)
	}

	used := Used(answer, cits)
	if len(used) != 2 || used[0].Number != 3 || used[1].Number != 1 {
		t.Errorf("unexpected used citations: %+v", used)
	}
}

func TestStablePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"see [", "see "},
		{"see [12", "see "},
		{"see [12]", "see [12]"},
		{"see [x", "see [x"},
		{"see [1234567890", "see [1234567890"},
		{"[1] then [", "[1] then "},
	}
	for _, tt := range tests {
		if got := StablePrefix(tt.in); got != tt.want {
			t.Errorf("StablePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
