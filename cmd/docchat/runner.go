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
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
)

// chatRunner is the interactive loop: read a question, stream the answer,
// repeat until exit or EOF.
type chatRunner struct {
	ctrl   *conversation.Controller
	input  InputReader
	logger *slog.Logger

	// pending carries the result of a read that outlived its caller's ctx.
	pending chan lineResult
}

type lineResult struct {
	line string
	err  error
}

// Run blocks until input ends, an exit command is entered, or ctx is done.
func (r *chatRunner) Run(ctx context.Context) error {
	for {
		line, err := r.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			return nil
		}
		outcome := r.ctrl.SendMessage(ctx, line)
		r.logger.Debug("turn finished", "outcome", outcome.String())
		if ctx.Err() != nil {
			return nil
		}
	}
}

// readLine reads on a separate goroutine so a cancelled ctx returns
// without waiting for the user to press enter. At most one read is in
// flight: a read abandoned by cancellation is picked up by the next call,
// and readers that implement Canceler are interrupted.
func (r *chatRunner) readLine(ctx context.Context) (string, error) {
	if r.pending == nil {
		ch := make(chan lineResult, 1)
		r.pending = ch
		go func() {
			line, err := r.input.ReadLine()
			ch <- lineResult{line: line, err: err}
		}()
	}
	select {
	case <-ctx.Done():
		if c, ok := r.input.(Canceler); ok {
			c.Cancel()
		}
		return "", ctx.Err()
	case res := <-r.pending:
		r.pending = nil
		return res.line, res.err
	}
}

// handleInterrupts stops the streaming turn on SIGINT, or calls quit when
// nothing is streaming. SIGTERM always quits. It returns a function that
// releases the signal handler.
func handleInterrupts(ctrl *conversation.Controller, quit context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				if sig == os.Interrupt && ctrl.Snapshot().IsStreaming {
					ctrl.Stop()
					continue
				}
				quit()
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
