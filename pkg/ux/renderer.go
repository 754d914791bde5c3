// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/AleutianAI/AleutianDocChat/pkg/citations"
	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// StoppedLabel is printed after a turn the user stopped.
const StoppedLabel = "[stopped]"

// Renderer writes conversation turns to a terminal as they stream.
//
// Pass Observe to conversation.WithObserver. Output is append-only: each
// snapshot writes only what the previous one did not, so a marker is drawn
// with whatever citation is known when its closing bracket arrives. The
// sources pane printed at the end of a turn lists every citation.
//
// In ModeMachine nothing is written until the turn ends; then the answer,
// its sources and the outcome are printed as prefixed lines:
//
//	THINKING: ...
//	ANSWER: ...
//	SOURCE: [1] report.pdf page=3
//	DONE
//
// A Renderer is safe for concurrent use.
type Renderer struct {
	mu    sync.Mutex
	w     io.Writer
	mode  Mode
	theme Theme

	last   conversation.TurnState
	inTurn bool

	// Position in the streaming segments already written.
	segIdx  int
	textOff int

	thinkingOff int
	thinking    string
	answering   bool
}

// NewRenderer creates a renderer writing to w, or os.Stdout if w is nil.
func NewRenderer(w io.Writer, mode Mode) *Renderer {
	if w == nil {
		w = os.Stdout
	}
	return &Renderer{w: w, mode: mode, theme: NewTheme(w, mode)}
}

// Theme returns the styles the renderer draws with.
func (r *Renderer) Theme() Theme { return r.theme }

// Mode returns the output mode.
func (r *Renderer) Mode() Mode { return r.mode }

// Observe renders the change since the previous snapshot.
func (r *Renderer) Observe(snap conversation.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch snap.State {
	case conversation.StateSending:
		if r.last != conversation.StateSending {
			r.startTurn()
		}
	case conversation.StateStreaming:
		if !r.inTurn {
			r.startTurn()
		}
		r.renderThinking(snap.ThinkingContent)
		r.renderAnswer(snap.StreamingSegments, snap.Citations, false)
	case conversation.StateFinalizing:
		if r.inTurn {
			r.finishCompleted(lastMessage(snap.History))
		}
	case conversation.StateAborted:
		if r.inTurn {
			r.finishAborted(snap)
		}
	case conversation.StateFailed:
		if r.inTurn {
			r.finishFailed(lastMessage(snap.History))
		}
	}
	r.last = snap.State
}

// PrintHistory writes every message of a conversation, oldest first.
func (r *Renderer) PrintHistory(history []datatypes.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range history {
		if r.mode == ModeMachine {
			fmt.Fprintf(r.w, "%s: %s\n", machineRole(msg.Role), msg.Content)
			continue
		}
		fmt.Fprintln(r.w, RenderMessage(r.theme, msg))
		fmt.Fprintln(r.w)
	}
}

func (r *Renderer) startTurn() {
	r.inTurn = true
	r.segIdx, r.textOff = 0, 0
	r.thinkingOff = 0
	r.thinking = ""
	r.answering = false
}

func (r *Renderer) renderThinking(content string) {
	if r.mode == ModeMachine {
		r.thinking = content
		return
	}
	if len(content) <= r.thinkingOff {
		return
	}
	if r.thinkingOff == 0 {
		fmt.Fprint(r.w, r.theme.Paint(r.theme.Muted, "thinking: "))
	}
	fmt.Fprint(r.w, r.theme.Paint(r.theme.Thinking, content[r.thinkingOff:]))
	r.thinkingOff = len(content)
}

// renderAnswer writes segments past the current position. Unless final, a
// trailing partial marker is held back until it closes or turns out to be
// text.
func (r *Renderer) renderAnswer(segs []citations.Segment, cits []datatypes.Citation, final bool) {
	if r.mode == ModeMachine {
		return
	}
	resolved := citations.Resolve(segs, cits)
	for i := r.segIdx; i < len(resolved); i++ {
		seg := resolved[i]
		last := i == len(resolved)-1
		if seg.Kind == citations.SegmentMarker {
			r.beginAnswer()
			fmt.Fprint(r.w, r.theme.RenderBadge(seg))
			r.segIdx, r.textOff = i+1, 0
			continue
		}
		text := seg.Text
		if last && !final {
			text = citations.StablePrefix(text)
		}
		if len(text) > r.textOff {
			r.beginAnswer()
			fmt.Fprint(r.w, text[r.textOff:])
		}
		if last && !final {
			if len(text) > r.textOff {
				r.textOff = len(text)
			}
			return
		}
		r.segIdx, r.textOff = i+1, 0
	}
}

func (r *Renderer) beginAnswer() {
	if r.answering {
		return
	}
	r.answering = true
	if r.thinkingOff > 0 {
		fmt.Fprint(r.w, "\n\n")
	}
}

func (r *Renderer) finishCompleted(msg datatypes.Message) {
	r.inTurn = false
	if r.mode == ModeMachine {
		if r.thinking != "" {
			fmt.Fprintf(r.w, "THINKING: %s\n", r.thinking)
		}
		fmt.Fprintf(r.w, "ANSWER: %s\n", msg.Content)
		for _, c := range distinctCitations(msg.Citations) {
			if c.PageNumber > 0 {
				fmt.Fprintf(r.w, "SOURCE: [%d] %s page=%d\n", c.Number, c.DocumentName, c.PageNumber)
			} else {
				fmt.Fprintf(r.w, "SOURCE: [%d] %s\n", c.Number, c.DocumentName)
			}
		}
		fmt.Fprintln(r.w, "DONE")
		return
	}
	r.renderAnswer(citations.Parse(msg.Content), msg.Citations, true)
	fmt.Fprintln(r.w)
	if pane := SourcesPane(r.theme, msg.Citations); pane != "" {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, pane)
	}
}

func (r *Renderer) finishAborted(snap conversation.Snapshot) {
	r.inTurn = false
	if r.mode == ModeMachine {
		fmt.Fprintln(r.w, "ABORTED")
		return
	}
	r.renderAnswer(snap.StreamingSegments, snap.Citations, true)
	if r.answering || r.thinkingOff > 0 {
		fmt.Fprint(r.w, " ")
	}
	fmt.Fprintln(r.w, r.theme.Paint(r.theme.Warning, StoppedLabel))
}

func (r *Renderer) finishFailed(msg datatypes.Message) {
	r.inTurn = false
	if r.mode == ModeMachine {
		fmt.Fprintf(r.w, "ERROR: %s\n", msg.Content)
		return
	}
	if r.answering || r.thinkingOff > 0 {
		fmt.Fprintln(r.w)
	}
	fmt.Fprintln(r.w, r.theme.Paint(r.theme.Error, msg.Content))
}

func lastMessage(history []datatypes.Message) datatypes.Message {
	if len(history) == 0 {
		return datatypes.Message{}
	}
	return history[len(history)-1]
}

func machineRole(role datatypes.Role) string {
	if role == datatypes.RoleUser {
		return "USER"
	}
	return "ASSISTANT"
}
