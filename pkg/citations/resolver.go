// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package citations

import "github.com/AleutianAI/AleutianDocChat/pkg/datatypes"

// Index looks citations up by number. Numbers are opaque keys: no
// assumption is made about order, density, or starting value.
type Index map[int]datatypes.Citation

// NewIndex builds an Index from a citation list. When a number repeats, the
// first occurrence wins, matching a linear search of the list.
func NewIndex(cits []datatypes.Citation) Index {
	idx := make(Index, len(cits))
	for _, c := range cits {
		if _, ok := idx[c.Number]; !ok {
			idx[c.Number] = c
		}
	}
	return idx
}

// Lookup returns the citation with the given number.
func (idx Index) Lookup(number int) (datatypes.Citation, bool) {
	c, ok := idx[number]
	return c, ok
}

// Resolved is a segment paired with its citation. Citation is nil for text
// segments and for markers whose number is not (yet) in the citation list;
// such markers are still shown, as a bare numbered badge.
type Resolved struct {
	Segment
	Citation *datatypes.Citation
}

// Enriched reports whether the segment is a marker with a matching citation.
func (r Resolved) Enriched() bool {
	return r.Kind == SegmentMarker && r.Citation != nil
}

// Resolve pairs every marker in segs with the citation of the same number.
//
// Resolve does not modify segs and keeps no state, so calling it again
// after the citation list grows upgrades previously unmatched markers.
func Resolve(segs []Segment, cits []datatypes.Citation) []Resolved {
	idx := NewIndex(cits)
	out := make([]Resolved, len(segs))
	for i, seg := range segs {
		out[i] = Resolved{Segment: seg}
		if seg.Kind != SegmentMarker {
			continue
		}
		if c, ok := idx.Lookup(seg.Number); ok {
			c := c
			out[i].Citation = &c
		}
	}
	return out
}

// Used returns the citations that text actually references, in order of
// first reference. Citations never referenced are omitted.
func Used(text string, cits []datatypes.Citation) []datatypes.Citation {
	idx := NewIndex(cits)
	var out []datatypes.Citation
	for _, n := range Referenced(text) {
		if c, ok := idx.Lookup(n); ok {
			out = append(out, c)
		}
	}
	return out
}
