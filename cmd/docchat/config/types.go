// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"time"
)

// History modes.
const (
	HistoryLocal  = "local"  // badger store on this machine
	HistoryRemote = "remote" // chat API over HTTP
	HistoryOff    = "off"    // nothing is saved
)

type DocChatConfig struct {
	// Identity scopes chats and requests.
	Identity IdentityConfig `yaml:"identity"`

	// Answer: the streaming answer service
	Answer AnswerConfig `yaml:"answer"`

	// History: where chats are saved and loaded from
	History HistoryConfig `yaml:"history"`

	// Server: settings for `docchat serve`
	Server ServerConfig `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`
	Output  OutputConfig  `yaml:"output"`
	Tracing TracingConfig `yaml:"tracing"`
}

type IdentityConfig struct {
	OrganizationID string `yaml:"organization_id" validate:"required"`
	UserID         string `yaml:"user_id" validate:"required"`
}

type AnswerConfig struct {
	BaseURL       string            `yaml:"base_url" validate:"required,url"`
	Timeout       time.Duration     `yaml:"timeout" validate:"gte=0"`
	TopK          int               `yaml:"top_k" validate:"gte=0,lte=50"`
	FolderIDs     []string          `yaml:"folder_ids,omitempty"`
	DocumentNames []string          `yaml:"document_names,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}

type HistoryConfig struct {
	Mode         string        `yaml:"mode" validate:"oneof=local remote off"`
	StorePath    string        `yaml:"store_path" validate:"required_if=Mode local"`
	APIURL       string        `yaml:"api_url" validate:"omitempty,url"`
	QueueSize    int           `yaml:"queue_size" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

type ServerConfig struct {
	Addr          string  `yaml:"addr" validate:"required,hostname_port"`
	MetricsAddr   string  `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	StorePath     string  `yaml:"store_path" validate:"required"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type OutputConfig struct {
	// Mode is auto, rich, plain or machine.
	Mode string `yaml:"mode" validate:"oneof=auto rich plain machine"`
}

type TracingConfig struct {
	// Stdout prints spans to stderr as JSON.
	Stdout bool `yaml:"stdout"`

	// OTLPEndpoint is the OTLP/gRPC collector `docchat serve` exports to.
	// It wins over Stdout.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure bool   `yaml:"otlp_insecure,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() DocChatConfig {
	return DocChatConfig{
		Identity: IdentityConfig{
			OrganizationID: "default",
			UserID:         defaultUser(),
		},
		Answer: AnswerConfig{
			BaseURL: "http://localhost:4001/api/v1",
			Timeout: 5 * time.Minute,
			TopK:    5,
		},
		History: HistoryConfig{
			Mode:         HistoryLocal,
			StorePath:    "~/.docchat/chats",
			APIURL:       "http://localhost:8090",
			QueueSize:    64,
			WriteTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8090",
			StorePath:     "~/.docchat/chats",
			RatePerSecond: 20,
			Burst:         40,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.docchat/logs",
		},
		Output: OutputConfig{Mode: "auto"},
	}
}
