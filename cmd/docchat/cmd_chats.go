// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/ux"
	"github.com/spf13/cobra"
)

func newChatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List, show and create saved chats",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List your most recently updated chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			chats, err := store.ListChats(cmd.Context(), a.scope(), limit)
			if err != nil {
				return err
			}
			theme := ux.NewTheme(a.stdout, a.mode)
			for _, c := range chats {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				if a.mode == ux.ModeMachine {
					fmt.Fprintf(a.stdout, "CHAT: %s %s\n", c.ID, c.Title)
					continue
				}
				fmt.Fprintf(a.stdout, "%s  %s\n", theme.Paint(theme.Muted, c.ID), title)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", chatstore.DefaultListLimit, "maximum chats to list")

	show := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a chat with its citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.GetMessages(cmd.Context(), a.scope(), args[0])
			if err != nil {
				return err
			}
			if len(msgs.Messages) == 0 {
				return fmt.Errorf("chat %s has no messages", args[0])
			}
			ux.NewRenderer(a.stdout, a.mode).PrintHistory(msgs.Messages)
			return nil
		},
	}

	var id, title string
	create := &cobra.Command{
		Use:   "new",
		Short: "Create an empty chat and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			chatID, err := store.CreateChat(cmd.Context(), a.scope(), id, title)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, chatID)
			return nil
		},
	}
	create.Flags().StringVar(&id, "id", "", "chat id (default: generated)")
	create.Flags().StringVar(&title, "title", "", "chat title")

	cmd.AddCommand(list, show, create)
	return cmd
}
