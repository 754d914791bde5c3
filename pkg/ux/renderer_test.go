// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDocChat/pkg/citations"
	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
)

// scriptedTransport serves a fixed body for every request.
type scriptedTransport struct {
	frames []string
	err    error
}

func (s scriptedTransport) OpenStream(ctx context.Context, req datatypes.StreamRequest) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(strings.Join(s.frames, "\n") + "\n")), nil
}

func runTurn(t *testing.T, mode Mode, frames []string) string {
	t.Helper()
	var buf bytes.Buffer
	r := NewRenderer(&buf, mode)
	ctrl := conversation.NewController(nil, scriptedTransport{frames: frames}, conversation.Config{},
		conversation.WithObserver(r.Observe))
	if out := ctrl.SendMessage(context.Background(), "what is it?"); out != conversation.OutcomeCompleted {
		t.Fatalf("SendMessage() = %v, want completed", out)
	}
	return buf.String()
}

var answerFrames = []string{
	`data: {"type":"chunk","content":"Tides are daily [1"}`,
	`data: {"type":"chunk","content":"] and seasonal [2]."}`,
	`data: {"type":"citation","number":1,"source":{"document_name":"tides.pdf","page_number":4,"chunk_text":"Tides   rise\ntwice daily."}}`,
	`data: {"type":"done"}`,
}

// =============================================================================
// Streaming
// =============================================================================

func TestRenderer_PlainTurn(t *testing.T) {
	got := runTurn(t, ModePlain, answerFrames)

	if !strings.HasPrefix(got, "Tides are daily [1] and seasonal [2].\n") {
		t.Errorf("answer not written verbatim, got:\n%s", got)
	}
	if !strings.Contains(got, "Sources") {
		t.Errorf("expected sources pane, got:\n%s", got)
	}
	if !strings.Contains(got, "[1] tides.pdf, page 4") {
		t.Errorf("expected citation line, got:\n%s", got)
	}
	if !strings.Contains(got, "Tides rise twice daily.") {
		t.Errorf("expected collapsed snippet, got:\n%s", got)
	}
	if strings.Count(got, "[2]") != 1 {
		t.Errorf("unresolved marker should not be listed in sources, got:\n%s", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("plain output must not contain escape sequences: %q", got)
	}
}

func TestRenderer_HoldsBackPartialMarker(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)

	var sc citations.Scanner
	observe := func(delta string) {
		sc.Feed(delta)
		r.Observe(conversation.Snapshot{State: conversation.StateStreaming, StreamingSegments: sc.Segments()})
	}

	r.Observe(conversation.Snapshot{State: conversation.StateSending})
	observe("see [")
	if got := buf.String(); got != "see " {
		t.Fatalf("after partial marker got %q, want %q", got, "see ")
	}
	observe("12")
	if got := buf.String(); got != "see " {
		t.Fatalf("digits should stay held back, got %q", got)
	}
	observe("] and [x")
	if got := buf.String(); got != "see [12] and [x" {
		t.Fatalf("got %q, want %q", got, "see [12] and [x")
	}
}

func TestRenderer_FlushesHeldBackTextOnCompletion(t *testing.T) {
	got := runTurn(t, ModePlain, []string{
		`data: {"type":"chunk","content":"array [4"}`,
		`data: {"type":"done"}`,
	})
	if got != "array [4\n" {
		t.Errorf("got %q, want %q", got, "array [4\n")
	}
}

func TestRenderer_Thinking(t *testing.T) {
	got := runTurn(t, ModePlain, []string{
		`data: {"type":"thinking","content":"checking "}`,
		`data: {"type":"thinking","content":"sources"}`,
		`data: {"type":"thinking_done"}`,
		`data: {"type":"chunk","content":"Answer."}`,
		`data: {"type":"done"}`,
	})
	want := "thinking: checking sources\n\nAnswer.\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderer_NewTurnResetsPosition(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)
	ctrl := conversation.NewController(nil, scriptedTransport{frames: []string{
		`data: {"type":"chunk","content":"one"}`,
		`data: {"type":"done"}`,
	}}, conversation.Config{}, conversation.WithObserver(r.Observe))

	ctrl.SendMessage(context.Background(), "first")
	ctrl.SendMessage(context.Background(), "second")

	if got := buf.String(); got != "one\none\n" {
		t.Errorf("got %q, want %q", got, "one\none\n")
	}
}

// =============================================================================
// Outcomes
// =============================================================================

func TestRenderer_Failed(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)
	ctrl := conversation.NewController(nil, scriptedTransport{err: errors.New("connection refused")},
		conversation.Config{}, conversation.WithObserver(r.Observe))

	if out := ctrl.SendMessage(context.Background(), "hi"); out != conversation.OutcomeFailed {
		t.Fatalf("SendMessage() = %v, want failed", out)
	}
	if got := buf.String(); got != conversation.FailureMessage+"\n" {
		t.Errorf("got %q", got)
	}
}

func TestRenderer_Aborted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)

	var sc citations.Scanner
	sc.Feed("partial [3")
	r.Observe(conversation.Snapshot{State: conversation.StateSending})
	r.Observe(conversation.Snapshot{State: conversation.StateStreaming, StreamingSegments: sc.Segments()})
	sc.Flush()
	r.Observe(conversation.Snapshot{State: conversation.StateAborted, StreamingSegments: sc.Segments()})
	r.Observe(conversation.Snapshot{State: conversation.StateIdle})

	want := "partial [3 " + StoppedLabel + "\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderer_IgnoresStrayTerminalStates(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModePlain)
	r.Observe(conversation.Snapshot{State: conversation.StateIdle})
	r.Observe(conversation.Snapshot{State: conversation.StateFinalizing})
	r.Observe(conversation.Snapshot{State: conversation.StateAborted})
	if buf.Len() != 0 {
		t.Errorf("expected no output outside a turn, got %q", buf.String())
	}
}

// =============================================================================
// Machine mode
// =============================================================================

func TestRenderer_MachineMode(t *testing.T) {
	got := runTurn(t, ModeMachine, []string{
		`data: {"type":"thinking","content":"hmm"}`,
		`data: {"type":"thinking_done"}`,
		answerFrames[0], answerFrames[1], answerFrames[2],
		`data: {"type":"done"}`,
	})
	want := strings.Join([]string{
		"THINKING: hmm",
		"ANSWER: Tides are daily [1] and seasonal [2].",
		"SOURCE: [1] tides.pdf page=4",
		"DONE",
		"",
	}, "\n")
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderer_MachineModeFailure(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, ModeMachine)
	ctrl := conversation.NewController(nil, scriptedTransport{err: errors.New("boom")},
		conversation.Config{}, conversation.WithObserver(r.Observe))
	ctrl.SendMessage(context.Background(), "hi")

	if got := buf.String(); got != "ERROR: "+conversation.FailureMessage+"\n" {
		t.Errorf("got %q", got)
	}
}

func TestRenderer_PrintHistory(t *testing.T) {
	history := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "question"},
		{Role: datatypes.RoleAssistant, Content: "answer [1]", Citations: []datatypes.Citation{{Number: 1, DocumentName: "a.pdf"}}},
	}

	var plain bytes.Buffer
	NewRenderer(&plain, ModePlain).PrintHistory(history)
	for _, want := range []string{"you: question", "assistant: answer [1]", "[1] a.pdf"} {
		if !strings.Contains(plain.String(), want) {
			t.Errorf("plain history missing %q:\n%s", want, plain.String())
		}
	}

	var machine bytes.Buffer
	NewRenderer(&machine, ModeMachine).PrintHistory(history)
	if got, want := machine.String(), "USER: question\nASSISTANT: answer [1]\n"; got != want {
		t.Errorf("machine history = %q, want %q", got, want)
	}
}

func TestRenderer_RichModeKeepsText(t *testing.T) {
	got := runTurn(t, ModeRich, answerFrames)
	for _, want := range []string{"Tides are daily", "[1]", "[2]", "tides.pdf", "page 4"} {
		if !strings.Contains(got, want) {
			t.Errorf("rich output missing %q:\n%s", want, got)
		}
	}
}
