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
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/AleutianDocChat/cmd/docchat/config"
	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/logging"
	"github.com/AleutianAI/AleutianDocChat/pkg/observability"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"github.com/AleutianAI/AleutianDocChat/pkg/stream"
	"github.com/AleutianAI/AleutianDocChat/pkg/ux"
	"github.com/AleutianAI/AleutianDocChat/services/chatapi"
	"github.com/spf13/cobra"
)

// annotationQuietLogs marks commands whose console would be cluttered by
// logs. Their logs go to the log file only unless --log-level is given.
const annotationQuietLogs = "docchat/quiet-logs"

// annotationExportTraces marks commands that export spans to
// tracing.otlp_endpoint.
const annotationExportTraces = "docchat/export-traces"

var errHistoryOff = errors.New("chat history is disabled (history.mode: off)")

// app holds global flags and what PersistentPreRunE builds from them.
type app struct {
	configPath string
	logLevel   string
	outputMode string
	trace      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg             config.DocChatConfig
	logger          *logging.Logger
	mode            ux.Mode
	shutdownTracing func(context.Context) error
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

// setup loads the config and builds the logger, output mode and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, created, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(a.stderr, "First run detected, wrote a default config. Edit it with your answer service URL.")
	}
	a.cfg = cfg

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: logging.DefaultService,
		JSON:    cfg.Logging.JSON,
		Quiet:   cmd.Annotations[annotationQuietLogs] == "true" && a.logLevel == "",
		Output:  a.stderr,
	})

	a.mode, err = a.resolveMode()
	if err != nil {
		return err
	}

	shutdown, err := observability.InitTracing(cmd.Context(), a.tracingConfig(cmd))
	switch {
	case errors.Is(err, observability.ErrTracingDisabled):
	case err != nil:
		return fmt.Errorf("init tracing: %w", err)
	default:
		a.shutdownTracing = shutdown
	}
	return nil
}

// tracingConfig sends spans to stderr on --trace or tracing.stdout. Only
// commands annotated for export use the OTLP collector.
func (a *app) tracingConfig(cmd *cobra.Command) observability.TracingConfig {
	tcfg := observability.TracingConfig{
		ServiceName: logging.DefaultService,
		Stdout:      a.trace || a.cfg.Tracing.Stdout,
		Writer:      a.stderr,
	}
	if cmd.Annotations[annotationExportTraces] == "true" {
		tcfg.Endpoint = a.cfg.Tracing.OTLPEndpoint
		tcfg.Insecure = a.cfg.Tracing.OTLPInsecure
	}
	return tcfg
}

// resolveMode applies --output, then output.mode, then detection.
func (a *app) resolveMode() (ux.Mode, error) {
	for _, name := range []string{a.outputMode, a.cfg.Output.Mode} {
		mode, ok, err := ux.ParseMode(name)
		if err != nil {
			return ux.ModePlain, err
		}
		if ok {
			return mode, nil
		}
	}
	return ux.DetectMode(a.stdout), nil
}

func (a *app) close() {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracing(ctx); err != nil && a.logger != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
		cancel()
		a.shutdownTracing = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) scope() chatstore.Scope {
	return chatstore.Scope{
		OrganizationID: a.cfg.Identity.OrganizationID,
		UserID:         a.cfg.Identity.UserID,
	}
}

// openStore opens the configured chat history: the local badger store or
// the remote chat API.
func (a *app) openStore() (chatstore.Store, error) {
	switch a.cfg.History.Mode {
	case config.HistoryLocal:
		bcfg := chatstore.DefaultBadgerConfig(config.ExpandPath(a.cfg.History.StorePath))
		bcfg.Logger = a.logger.Slog()
		bcfg.GCInterval = 0
		return chatstore.OpenBadger(bcfg)
	case config.HistoryRemote:
		return chatapi.NewClient(a.cfg.History.APIURL, nil), nil
	default:
		return nil, errHistoryOff
	}
}

// sinkFor returns where finished turns of chatID are written.
func (a *app) sinkFor(store chatstore.Store, chatID string) persistence.Sink {
	if a.cfg.History.Mode == config.HistoryRemote {
		return persistence.NewHTTPSink(a.cfg.History.APIURL, a.scope(), chatID, nil)
	}
	return persistence.StoreSink{Store: store, Scope: a.scope(), ChatID: chatID}
}

func (a *app) transport() stream.Transport {
	return stream.NewClient(stream.ClientConfig{
		BaseURL: a.cfg.Answer.BaseURL,
		Timeout: a.cfg.Answer.Timeout,
		Headers: a.cfg.Answer.Headers,
		Logger:  a.logger.Slog(),
	})
}
