// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDocChat/pkg/citations"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// SnippetRunes is how much of a citation's chunk text the sources pane shows.
const SnippetRunes = 160

// RenderBadge renders one marker. Markers with a citation get the accent
// style; markers without one keep their number and render muted.
func (t Theme) RenderBadge(r citations.Resolved) string {
	if r.Enriched() {
		return t.Paint(t.Badge, r.Text)
	}
	return t.Paint(t.BadgeBare, r.Text)
}

// RenderContent renders answer text with its markers drawn as badges.
func RenderContent(t Theme, content string, cits []datatypes.Citation) string {
	var b strings.Builder
	for _, r := range citations.Resolve(citations.Parse(content), cits) {
		writeResolved(&b, t, r)
	}
	return b.String()
}

func writeResolved(b *strings.Builder, t Theme, r citations.Resolved) {
	if r.Kind == citations.SegmentMarker {
		b.WriteString(t.RenderBadge(r))
		return
	}
	b.WriteString(r.Text)
}

// RenderMessage renders a stored message with a role label and, for
// assistant messages that carry citations, the sources pane.
func RenderMessage(t Theme, msg datatypes.Message) string {
	var b strings.Builder
	switch msg.Role {
	case datatypes.RoleUser:
		b.WriteString(t.Paint(t.Prompt, "you"))
		b.WriteString(t.Paint(t.Muted, ": "))
		b.WriteString(msg.Content)
	default:
		b.WriteString(t.Paint(t.Title, "assistant"))
		b.WriteString(t.Paint(t.Muted, ": "))
		b.WriteString(RenderContent(t, msg.Content, msg.Citations))
		if pane := SourcesPane(t, msg.Citations); pane != "" {
			b.WriteString("\n")
			b.WriteString(pane)
		}
	}
	return b.String()
}

// SourcesPane lists the distinct citations of a message in arrival order.
// It returns "" when there are none.
func SourcesPane(t Theme, cits []datatypes.Citation) string {
	distinct := distinctCitations(cits)
	if len(distinct) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.Paint(t.Title, "Sources"))
	for _, c := range distinct {
		b.WriteString("\n")
		b.WriteString(t.Paint(t.Badge, fmt.Sprintf("[%d]", c.Number)))
		b.WriteString(" ")
		b.WriteString(t.Paint(t.SourceName, c.DocumentName))
		if c.PageNumber > 0 {
			b.WriteString(t.Paint(t.Muted, fmt.Sprintf(", page %d", c.PageNumber)))
		}
		if snip := Snippet(c.ChunkText, SnippetRunes); snip != "" {
			b.WriteString("\n    ")
			b.WriteString(t.Paint(t.Muted, snip))
		}
	}
	return t.Paint(t.SourcesBox, b.String())
}

// Snippet collapses whitespace in text and cuts it to at most limit runes,
// ending in "..." when cut.
func Snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return strings.TrimRight(string(runes[:limit-3]), " ") + "..."
}

func distinctCitations(cits []datatypes.Citation) []datatypes.Citation {
	seen := make(map[int]struct{}, len(cits))
	out := make([]datatypes.Citation, 0, len(cits))
	for _, c := range cits {
		if _, ok := seen[c.Number]; ok {
			continue
		}
		seen[c.Number] = struct{}{}
		out = append(out, c)
	}
	return out
}
