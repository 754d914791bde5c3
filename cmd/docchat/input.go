// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// InputReader reads one line of user input. It returns io.EOF when input
// ends.
type InputReader interface {
	ReadLine() (string, error)
}

// Canceler is implemented by readers whose blocked ReadLine can be
// interrupted. After Cancel the pending ReadLine returns an error.
type Canceler interface {
	Cancel()
}

// errInputCancelled is returned by a ReadLine interrupted by Cancel.
var errInputCancelled = errors.New("input cancelled")

// deadliner is satisfied by *os.File and pipes.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// LineReader reads newline-terminated input from any reader. It is used
// for pipes and non-terminal stdin.
type LineReader struct {
	src    io.Reader
	reader *bufio.Reader
	prompt string
	out    io.Writer
}

// NewLineReader wraps r. When out is non-nil, prompt is written to it
// before each read.
func NewLineReader(r io.Reader, out io.Writer, prompt string) *LineReader {
	return &LineReader{src: r, reader: bufio.NewReader(r), prompt: prompt, out: out}
}

// Cancel unblocks a pending read when the source supports read deadlines.
// Other sources keep reading until their next line.
func (r *LineReader) Cancel() {
	if d, ok := r.src.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now())
	}
}

func (r *LineReader) ReadLine() (string, error) {
	if r.out != nil && r.prompt != "" {
		fmt.Fprint(r.out, r.prompt)
	}
	line, err := r.reader.ReadString('\n')
	if err != nil {
		// A final line without a newline still counts.
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader reads with line editing and up/down history.
type InteractiveInputReader struct {
	prompt  string
	out     io.Writer
	history *lineHistory

	mu        sync.Mutex
	running   *tea.Program
	cancelled bool
}

// NewInteractiveInputReader returns an editor-backed reader that draws to
// out and keeps up to maxHistory entries.
func NewInteractiveInputReader(out io.Writer, prompt string, maxHistory int) *InteractiveInputReader {
	if out == nil {
		out = os.Stderr
	}
	return &InteractiveInputReader{prompt: prompt, out: out, history: newLineHistory(maxHistory)}
}

// ReadLine runs a one-line editor. Ctrl+D on an empty line returns io.EOF;
// Ctrl+C clears the line and returns "".
func (r *InteractiveInputReader) ReadLine() (string, error) {
	field := textinput.New()
	field.Prompt = r.prompt
	field.CharLimit = maxQuestionRunes
	field.Width = 80
	field.Focus()

	r.history.rewind()
	prog := tea.NewProgram(editorModel{field: field, history: r.history}, tea.WithOutput(r.out))
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return "", errInputCancelled
	}
	r.running = prog
	r.mu.Unlock()

	final, err := prog.Run()
	r.mu.Lock()
	r.running = nil
	r.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("line editor: %w", err)
	}
	m, ok := final.(editorModel)
	if !ok {
		return "", fmt.Errorf("line editor returned %T", final)
	}

	switch m.outcome {
	case editorPending:
		return "", errInputCancelled
	case editorEOF:
		return "", io.EOF
	case editorCleared:
		return "", nil
	}
	line := strings.TrimSpace(m.field.Value())
	r.history.add(line)
	return line, nil
}

// Cancel closes the running editor, and any later one, without a line.
func (r *InteractiveInputReader) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	prog := r.running
	r.mu.Unlock()
	if prog != nil {
		prog.Quit()
	}
}

// maxQuestionRunes caps a single typed question.
const maxQuestionRunes = 4096

// lineHistory is a bounded list of submitted lines with a browse cursor.
// The cursor sits past the newest entry while the user types.
type lineHistory struct {
	entries []string
	limit   int
	cursor  int
	draft   string
}

func newLineHistory(limit int) *lineHistory {
	if limit <= 0 {
		limit = 50
	}
	return &lineHistory{limit: limit}
}

// add records line unless it is empty or repeats the newest entry.
func (h *lineHistory) add(line string) {
	if line == "" {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	h.rewind()
}

func (h *lineHistory) rewind() {
	h.cursor = len(h.entries)
	h.draft = ""
}

// older moves toward the oldest entry, saving current as the draft when
// browsing starts.
func (h *lineHistory) older(current string) (string, bool) {
	if h.cursor == 0 {
		return "", false
	}
	if h.cursor == len(h.entries) {
		h.draft = current
	}
	h.cursor--
	return h.entries[h.cursor], true
}

// newer moves back toward the draft.
func (h *lineHistory) newer() (string, bool) {
	if h.cursor >= len(h.entries) {
		return "", false
	}
	h.cursor++
	if h.cursor == len(h.entries) {
		return h.draft, true
	}
	return h.entries[h.cursor], true
}

type editorOutcome int

const (
	editorPending editorOutcome = iota
	editorSubmitted
	editorCleared
	editorEOF
)

type editorModel struct {
	field   textinput.Model
	history *lineHistory
	outcome editorOutcome
}

func (m editorModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m editorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.field, cmd = m.field.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.outcome = editorSubmitted
		return m, tea.Quit
	case tea.KeyCtrlC:
		m.outcome = editorCleared
		return m, tea.Quit
	case tea.KeyCtrlD:
		if m.field.Value() == "" {
			m.outcome = editorEOF
			return m, tea.Quit
		}
		return m, nil
	case tea.KeyUp:
		if line, ok := m.history.older(m.field.Value()); ok {
			m.field.SetValue(line)
			m.field.CursorEnd()
		}
		return m, nil
	case tea.KeyDown:
		if line, ok := m.history.newer(); ok {
			m.field.SetValue(line)
			m.field.CursorEnd()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.field, cmd = m.field.Update(msg)
	return m, cmd
}

func (m editorModel) View() string {
	if m.outcome != editorPending {
		return ""
	}
	return m.field.View()
}

// newInputReader picks the editor when in is a terminal and the plain line
// reader otherwise.
func newInputReader(in io.Reader, out io.Writer, prompt string, interactive bool) InputReader {
	if f, ok := in.(*os.File); ok && interactive {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return NewInteractiveInputReader(out, prompt, 50)
		}
	}
	return NewLineReader(in, out, prompt)
}

func isExitCommand(input string) bool {
	switch input {
	case "exit", "quit", "/exit":
		return true
	}
	return false
}
