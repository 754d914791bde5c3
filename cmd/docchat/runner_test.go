// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockInputReader returns predetermined inputs, then io.EOF.
type MockInputReader struct {
	inputs []string
	index  int
}

func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// blockingReader never returns until released.
type blockingReader struct{ release chan struct{} }

func (b blockingReader) ReadLine() (string, error) {
	<-b.release
	return "", io.EOF
}

type countingTransport struct {
	mu      sync.Mutex
	queries []string
}

func (c *countingTransport) OpenStream(ctx context.Context, req datatypes.StreamRequest) (io.ReadCloser, error) {
	c.mu.Lock()
	c.queries = append(c.queries, req.Query)
	c.mu.Unlock()
	body := `data: {"type":"chunk","content":"ok"}` + "\n" + `data: {"type":"done"}` + "\n"
	return io.NopCloser(strings.NewReader(body)), nil
}

func newTestRunner(input InputReader, transport *countingTransport) *chatRunner {
	return &chatRunner{
		ctrl:   conversation.NewController(nil, transport, conversation.Config{OrganizationID: "org-1"}),
		input:  input,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestChatRunner_SendsUntilExit(t *testing.T) {
	transport := &countingTransport{}
	r := newTestRunner(&MockInputReader{inputs: []string{"one", "", "two", "quit", "three"}}, transport)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"one", "two"}, transport.queries)
	assert.Len(t, r.ctrl.Snapshot().History, 4)
}

func TestChatRunner_StopsAtEOF(t *testing.T) {
	transport := &countingTransport{}
	r := newTestRunner(&MockInputReader{inputs: []string{"only"}}, transport)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"only"}, transport.queries)
}

func TestChatRunner_CancelWhileWaitingForInput(t *testing.T) {
	reader := blockingReader{release: make(chan struct{})}
	defer close(reader.release)
	r := newTestRunner(reader, &countingTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// cancelableReader blocks until Cancel is called.
type cancelableReader struct {
	cancelled chan struct{}
	returned  chan struct{}
	once      sync.Once
}

func newCancelableReader() *cancelableReader {
	return &cancelableReader{cancelled: make(chan struct{}), returned: make(chan struct{})}
}

func (c *cancelableReader) ReadLine() (string, error) {
	defer close(c.returned)
	<-c.cancelled
	return "", errInputCancelled
}

func (c *cancelableReader) Cancel() { c.once.Do(func() { close(c.cancelled) }) }

func TestChatRunner_CancelInterruptsReader(t *testing.T) {
	reader := newCancelableReader()
	r := newTestRunner(reader, &countingTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	select {
	case <-reader.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("the abandoned read was not interrupted")
	}
}

// countingReader answers one line per release, counting calls.
type countingReader struct {
	release chan string
	mu      sync.Mutex
	calls   int
}

func (c *countingReader) ReadLine() (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return <-c.release, nil
}

func TestChatRunner_ReusesAbandonedRead(t *testing.T) {
	reader := &countingReader{release: make(chan string, 1)}
	transport := &countingTransport{}
	r := newTestRunner(reader, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.readLine(ctx)
	require.ErrorIs(t, err, context.Canceled)

	reader.release <- "exit"
	require.NoError(t, r.Run(context.Background()))

	reader.mu.Lock()
	defer reader.mu.Unlock()
	assert.Equal(t, 1, reader.calls, "the pending read is reused, not duplicated")
	assert.Empty(t, transport.queries)
}

func TestLineReader_CancelUnblocksPipe(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	lr := NewLineReader(pr, nil, "")
	done := make(chan error, 1)
	go func() {
		_, err := lr.ReadLine()
		done <- err
	}()

	lr.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine stayed blocked after Cancel")
	}
}

func TestInteractiveInputReader_CancelBeforeRead(t *testing.T) {
	r := NewInteractiveInputReader(io.Discard, "> ", 5)
	r.Cancel()
	_, err := r.ReadLine()
	assert.ErrorIs(t, err, errInputCancelled)
}

type failingReader struct{}

func (failingReader) ReadLine() (string, error) { return "", errors.New("tty gone") }

func TestChatRunner_ReadError(t *testing.T) {
	r := newTestRunner(failingReader{}, &countingTransport{})
	assert.EqualError(t, r.Run(context.Background()), "tty gone")
}

func TestLineReader(t *testing.T) {
	var prompts strings.Builder
	r := NewLineReader(strings.NewReader("  hello \nlast"), &prompts, "> ")

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "> > > ", prompts.String())
}

func TestIsExitCommand(t *testing.T) {
	for _, in := range []string{"exit", "quit", "/exit"} {
		assert.True(t, isExitCommand(in), in)
	}
	for _, in := range []string{"EXIT", "exit now", ""} {
		assert.False(t, isExitCommand(in), in)
	}
}

func TestLineHistory(t *testing.T) {
	h := newLineHistory(2)
	for _, line := range []string{"a", "a", "", "b", "c"} {
		h.add(line)
	}
	assert.Equal(t, []string{"b", "c"}, h.entries)

	line, ok := h.older("draft")
	require.True(t, ok)
	assert.Equal(t, "c", line)
	line, _ = h.older("c")
	assert.Equal(t, "b", line)
	_, ok = h.older("b")
	assert.False(t, ok, "already at the oldest entry")

	line, _ = h.newer()
	assert.Equal(t, "c", line)
	line, ok = h.newer()
	require.True(t, ok)
	assert.Equal(t, "draft", line)
	_, ok = h.newer()
	assert.False(t, ok)
}

func TestEditorModel_Keys(t *testing.T) {
	h := newLineHistory(10)
	h.add("earlier question")
	m := editorModel{field: textinput.New(), history: h}
	m.field.Focus()

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(editorModel)
	assert.Equal(t, "earlier question", m.field.Value())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	m = next.(editorModel)
	assert.Equal(t, editorPending, m.outcome, "ctrl+d only ends input on an empty line")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, editorSubmitted, next.(editorModel).outcome)

	empty := editorModel{field: textinput.New(), history: h}
	next, _ = empty.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	assert.Equal(t, editorEOF, next.(editorModel).outcome)
	assert.Empty(t, next.(editorModel).View())
}
