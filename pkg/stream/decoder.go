// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
)

// defaultReadSize is the size of each read from the underlying stream.
const defaultReadSize = 4096

// DecoderStats summarizes what a Decoder has seen so far.
type DecoderStats struct {
	Lines     int // complete lines examined
	Events    int // events returned to the caller
	Malformed int // data frames dropped because they failed to parse
	Bytes     int // bytes read from the underlying stream
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithParser replaces the default Parser.
func WithParser(p Parser) DecoderOption {
	return func(d *Decoder) { d.parser = p }
}

// WithMalformedHandler registers fn to be called with each data frame that
// failed to parse. The frame is still dropped; fn is for logging and metrics.
func WithMalformedHandler(fn func(line string, err error)) DecoderOption {
	return func(d *Decoder) { d.onMalformed = fn }
}

// WithReadSize sets the size of each read from the underlying stream.
func WithReadSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// readResult is one read handed from the pump goroutine to Next.
type readResult struct {
	data []byte
	err  error
}

// Decoder turns a byte stream into a sequence of Events.
//
// # Description
//
// Bytes are buffered and split on '\n'. Each complete line is handed to the
// Parser; lines that are not data frames are skipped and malformed frames
// are dropped without failing the stream. A line that has not yet seen its
// newline stays in the buffer and is joined with the next read. An
// unterminated final line is still decoded at EOF.
//
// # Termination
//
// Next returns io.EOF after the stream ends or after a Done event has been
// returned. It returns the context's error as soon as the context is
// cancelled, even while a read on the underlying stream is blocked: reads
// run on a pump goroutine so that cancellation never waits on I/O. A read
// error other than io.EOF is returned after any complete lines already
// buffered.
//
// Once Next has returned an error it keeps returning that error.
//
// # Thread Safety
//
// A Decoder is not safe for concurrent use. Close may be called from any
// goroutine.
//
// # Resource Management
//
// The caller owns the reader. When the reader blocks indefinitely the pump
// goroutine only exits after the caller closes it (for HTTP, closing the
// response body), which the turn controller always does.
type Decoder struct {
	ctx         context.Context
	src         io.Reader
	parser      Parser
	onMalformed func(line string, err error)
	readSize    int

	buf     []byte
	eof     bool
	readErr error
	err     error
	stats   DecoderStats

	startOnce sync.Once
	closeOnce sync.Once
	reads     chan readResult
	stop      chan struct{}
}

// NewDecoder returns a Decoder reading from r. The sequence ends when ctx
// is cancelled.
func NewDecoder(ctx context.Context, r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		ctx:      ctx,
		src:      r,
		parser:   NewParser(),
		readSize: defaultReadSize,
		reads:    make(chan readResult),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next event in arrival order.
func (d *Decoder) Next() (Event, error) {
	if d.err != nil {
		return nil, d.err
	}

	for {
		if err := d.ctx.Err(); err != nil {
			return nil, d.fail(err)
		}

		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := string(d.buf[:i])
			d.buf = d.buf[i+1:]
			if ev, ok := d.parseLine(line); ok {
				return d.emit(ev), nil
			}
			continue
		}

		if d.readErr != nil {
			return nil, d.fail(fmt.Errorf("read stream: %w", d.readErr))
		}

		if d.eof {
			if len(d.buf) > 0 {
				line := string(d.buf)
				d.buf = nil
				if ev, ok := d.parseLine(line); ok {
					return d.emit(ev), nil
				}
			}
			return nil, d.fail(io.EOF)
		}

		d.startOnce.Do(func() { go d.pump() })

		select {
		case <-d.ctx.Done():
			return nil, d.fail(d.ctx.Err())
		case res := <-d.reads:
			d.stats.Bytes += len(res.data)
			d.buf = append(d.buf, res.data...)
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					d.eof = true
				} else {
					d.readErr = res.err
				}
			}
		}
	}
}

// Events returns the remaining events as a range-over-func sequence.
//
// The sequence stops silently at io.EOF. Any other terminal error,
// including context cancellation, is yielded once as the final pair.
// Breaking out of the loop closes the decoder.
func (d *Decoder) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				d.Close()
				return
			}
		}
	}
}

// Stats returns counters for what has been decoded so far.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Close stops the pump goroutine from delivering further reads. It does
// not close the underlying reader. Close is idempotent.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() { close(d.stop) })
}

// parseLine returns the event carried by line, if any.
func (d *Decoder) parseLine(line string) (Event, bool) {
	d.stats.Lines++
	ev, err := d.parser.ParseLine(line)
	if err != nil {
		if !errors.Is(err, ErrNoFrame) {
			d.stats.Malformed++
			if d.onMalformed != nil {
				d.onMalformed(line, err)
			}
		}
		return nil, false
	}
	return ev, true
}

// emit counts ev and, for Done, ends the sequence after this event.
func (d *Decoder) emit(ev Event) Event {
	d.stats.Events++
	if _, ok := ev.(Done); ok {
		d.fail(io.EOF)
	}
	return ev
}

// fail records err as terminal and releases the pump.
func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	d.Close()
	return err
}

// pump reads from src until it errors or the decoder is closed.
func (d *Decoder) pump() {
	for {
		chunk := make([]byte, d.readSize)
		n, err := d.src.Read(chunk)
		res := readResult{data: chunk[:n], err: err}
		if n == 0 && err == nil {
			continue
		}
		select {
		case d.reads <- res:
		case <-d.stop:
			return
		}
		if err != nil {
			return
		}
	}
}
