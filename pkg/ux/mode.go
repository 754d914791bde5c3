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
	"strings"

	"github.com/mattn/go-isatty"
)

// ModeEnv overrides output mode detection.
const ModeEnv = "DOCCHAT_OUTPUT"

// Mode controls how richly output is drawn.
type Mode int

const (
	// ModeRich streams styled output with badges and a boxed sources pane.
	ModeRich Mode = iota
	// ModePlain streams the same layout without styling.
	ModePlain
	// ModeMachine buffers each turn and prints prefixed lines for scripts.
	ModeMachine
)

func (m Mode) String() string {
	switch m {
	case ModeRich:
		return "rich"
	case ModePlain:
		return "plain"
	case ModeMachine:
		return "machine"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name. The empty string is "auto", reported as
// ok=false with a nil error so the caller can fall back to detection.
func ParseMode(s string) (Mode, bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModePlain, false, nil
	case "rich", "full":
		return ModeRich, true, nil
	case "plain", "minimal":
		return ModePlain, true, nil
	case "machine", "quiet":
		return ModeMachine, true, nil
	default:
		return ModePlain, false, fmt.Errorf("unknown output mode %q", s)
	}
}

// DetectMode picks a mode for w. ModeEnv wins when set to a known mode;
// otherwise terminals get ModeRich and everything else ModePlain.
func DetectMode(w io.Writer) Mode {
	if m, ok, err := ParseMode(os.Getenv(ModeEnv)); err == nil && ok {
		return m
	}
	if isTerminal(w) {
		return ModeRich
	}
	return ModePlain
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
