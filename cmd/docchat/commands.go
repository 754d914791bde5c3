// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documents",
		Long: `docchat asks questions about a document collection and streams
cited answers. Chats are saved locally or to a chat history API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.docchat/docchat.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.outputMode, "output", "", "output mode: auto, rich, plain, machine")
	flags.BoolVar(&a.trace, "trace", false, "print trace spans to stderr")

	root.AddCommand(
		newChatCmd(a),
		newChatsCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}
