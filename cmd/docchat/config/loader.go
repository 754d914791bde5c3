// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the docchat CLI configuration from
// ~/.docchat/docchat.yaml, writing a default file on first run.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns ~/.docchat/docchat.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".docchat", "docchat.yaml"), nil
}

// Load reads the config at path, or DefaultPath when path is empty. A
// missing file is created from DefaultConfig and created is true.
func Load(path string) (cfg DocChatConfig, created bool, err error) {
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return DocChatConfig{}, false, err
		}
	}
	path = ExpandPath(path)

	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return DocChatConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DocChatConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return DocChatConfig{}, created, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, created, nil
}

// Parse decodes YAML over DefaultConfig, so omitted keys keep their
// defaults, and validates the result.
func Parse(data []byte) (DocChatConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DocChatConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DocChatConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules that span fields.
func (c DocChatConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.History.Mode == HistoryRemote && c.History.APIURL == "" {
		return errors.New("invalid config: history.api_url is required when history.mode is remote")
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpandPath replaces a leading "~" with the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
