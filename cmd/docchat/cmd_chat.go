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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocChat/cmd/docchat/config"
	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/conversation"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/AleutianAI/AleutianDocChat/pkg/persistence"
	"github.com/AleutianAI/AleutianDocChat/pkg/ux"
	"github.com/spf13/cobra"
)

const titleRunes = 60

type chatOptions struct {
	chatID    string
	title     string
	folders   []string
	documents []string
	topK      int
	noSave    bool
}

func newChatCmd(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question, or start an interactive chat",
		Long: `With a question, chat prints one answer and exits. Without one it
starts an interactive session; Ctrl+C stops the answer being streamed and
exits when nothing is streaming.`,
		Annotations: map[string]string{annotationQuietLogs: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.topK < 0 || opts.topK > datatypes.MaxTopK {
				return fmt.Errorf("--top-k must be between 0 and %d", datatypes.MaxTopK)
			}
			return runChat(cmd.Context(), a, opts, strings.TrimSpace(strings.Join(args, " ")))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.chatID, "chat-id", "", "continue an existing chat")
	f.StringVar(&opts.title, "title", "", "title for a new chat")
	f.StringSliceVar(&opts.folders, "folder", nil, "restrict retrieval to folder ids")
	f.StringSliceVar(&opts.documents, "document", nil, "restrict retrieval to document names")
	f.IntVar(&opts.topK, "top-k", 0, "chunks to retrieve (default from config)")
	f.BoolVar(&opts.noSave, "no-save", false, "do not save this chat")
	return cmd
}

func runChat(ctx context.Context, a *app, opts chatOptions, question string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	renderer := ux.NewRenderer(a.stdout, a.mode)
	logger := a.logger.Slog()

	session, bridge, cleanup, err := a.openChat(ctx, renderer, opts, question)
	if err != nil {
		return err
	}
	defer cleanup()

	ctrl := conversation.NewController(session, a.transport(), a.conversationConfig(opts),
		conversation.WithBridge(bridge),
		conversation.WithLogger(logger),
		conversation.WithObserver(renderer.Observe),
	)
	release := handleInterrupts(ctrl, quit)
	defer release()

	if question != "" {
		if ctrl.SendMessage(ctx, question) == conversation.OutcomeFailed {
			return errors.New("the answer service could not answer")
		}
		return nil
	}

	prompt := renderer.Theme().Paint(renderer.Theme().Prompt, "> ")
	runner := &chatRunner{
		ctrl:   ctrl,
		input:  newInputReader(a.stdin, a.stderr, prompt, a.mode != ux.ModeMachine),
		logger: logger,
	}
	return runner.Run(ctx)
}

// openChat prepares the session and persistence bridge. An existing chat
// is loaded and printed; otherwise a new chat is created unless saving is
// off. cleanup drains pending writes and closes the store.
func (a *app) openChat(ctx context.Context, renderer *ux.Renderer, opts chatOptions, question string) (*conversation.Session, persistence.Bridge, func(), error) {
	noop := func() {}
	if opts.noSave || a.cfg.History.Mode == config.HistoryOff {
		if opts.chatID != "" {
			return nil, nil, noop, errors.New("--chat-id needs chat history; it is disabled")
		}
		return conversation.NewSession(conversation.Seed{}), persistence.NopBridge{}, noop, nil
	}

	store, err := a.openStore()
	if err != nil {
		return nil, nil, noop, err
	}

	chatID := opts.chatID
	seed := conversation.Seed{}
	if chatID != "" {
		msgs, err := store.GetMessages(ctx, a.scope(), chatID)
		if err != nil {
			_ = store.Close()
			return nil, nil, noop, fmt.Errorf("load chat %s: %w", chatID, err)
		}
		if len(msgs.Messages) == 0 {
			// Unknown ids start a new chat under that id.
			if _, err := store.CreateChat(ctx, a.scope(), chatID, opts.title); err != nil && !errors.Is(err, chatstore.ErrAlreadyExists) {
				_ = store.Close()
				return nil, nil, noop, fmt.Errorf("create chat %s: %w", chatID, err)
			}
		}
		seed = conversation.Seed{History: msgs.Messages, Citations: msgs.Citations}
		renderer.PrintHistory(msgs.Messages)
	} else {
		title := opts.title
		if title == "" {
			title = ux.Snippet(question, titleRunes)
		}
		chatID, err = store.CreateChat(ctx, a.scope(), "", title)
		if err != nil {
			_ = store.Close()
			return nil, nil, noop, fmt.Errorf("create chat: %w", err)
		}
	}
	fmt.Fprintf(a.stderr, "chat %s\n", chatID)

	bridge := persistence.NewAsyncBridge(a.sinkFor(store, chatID), persistence.AsyncConfig{
		QueueSize:    a.cfg.History.QueueSize,
		WriteTimeout: a.cfg.History.WriteTimeout,
		Logger:       a.logger.Slog().With("chat_id", chatID),
		OnError: func(req datatypes.AddMessageRequest, err error) {
			fmt.Fprintf(a.stderr, "warning: %s message was not saved: %v\n", req.Role, err)
		},
	})
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := bridge.Close(ctx); err != nil {
			a.logger.Warn("pending chat writes were dropped", "chat_id", chatID, "error", err)
		}
		if err := store.Close(); err != nil {
			a.logger.Warn("closing chat store failed", "error", err)
		}
	}
	return conversation.NewSession(seed), bridge, cleanup, nil
}

func (a *app) conversationConfig(opts chatOptions) conversation.Config {
	cfg := conversation.Config{
		OrganizationID: a.cfg.Identity.OrganizationID,
		FolderIDs:      a.cfg.Answer.FolderIDs,
		DocumentNames:  a.cfg.Answer.DocumentNames,
		TopK:           a.cfg.Answer.TopK,
	}
	if len(opts.folders) > 0 {
		cfg.FolderIDs = opts.folders
	}
	if len(opts.documents) > 0 {
		cfg.DocumentNames = opts.documents
	}
	if opts.topK > 0 {
		cfg.TopK = opts.topK
	}
	return cfg
}
