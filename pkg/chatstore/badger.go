// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	chat/{chat_id}             -> chatRecord (JSON)
//	msg/{chat_id}/{message_id} -> messageRecord (JSON)
//
// Message ids are UUIDv7, so a prefix scan returns messages oldest first.
const (
	chatPrefix    = "chat/"
	messagePrefix = "msg/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	// writeMu serializes read-modify-write of chat records so concurrent
	// AddMessage calls do not conflict on UpdatedAt.
	writeMu sync.Mutex

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// OpenBadger opens or creates a BadgerStore.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is set. The directory is
//     created with 0750 permissions.
//
// # Outputs
//
//   - *BadgerStore: call Close when done.
//   - error: the path is missing or the database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent chat store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create chat store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger chat store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) CreateChat(ctx context.Context, scope Scope, id, title string) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		generated, err := newID()
		if err != nil {
			return "", fmt.Errorf("generate chat id: %w", err)
		}
		id = generated
	} else if err := validateChatID(id); err != nil {
		return "", err
	}

	now := s.now()
	rec := chatRecord{
		ID:             id,
		OrganizationID: scope.OrganizationID,
		UserID:         scope.UserID,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := chatKey(id)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putJSON(txn, key, rec)
	})
	if err != nil {
		return "", fmt.Errorf("create chat %s: %w", id, err)
	}
	return id, nil
}

func (s *BadgerStore) ListChats(ctx context.Context, scope Scope, limit int) ([]datatypes.ChatSummary, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []chatRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chatPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec chatRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if rec.listedFor(scope) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return summarize(records, limit), nil
}

func (s *BadgerStore) GetMessages(ctx context.Context, scope Scope, chatID string) (datatypes.ChatMessages, error) {
	if err := scope.Validate(); err != nil {
		return datatypes.ChatMessages{}, err
	}
	if err := ctx.Err(); err != nil {
		return datatypes.ChatMessages{}, err
	}

	var (
		chat    chatRecord
		records []messageRecord
		visible bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, chatKey(chatID), &chat)
		if err != nil || !found || !chat.ownedBy(scope) {
			return err
		}
		visible = true

		opts := badger.DefaultIteratorOptions
		opts.Prefix = messageKeyPrefix(chatID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return datatypes.ChatMessages{}, fmt.Errorf("get messages for %s: %w", chatID, err)
	}
	if !visible {
		return emptyMessages(), nil
	}
	return buildMessages(chat, records), nil
}

func (s *BadgerStore) AddMessage(ctx context.Context, scope Scope, chatID string, req datatypes.AddMessageRequest) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err = s.db.Update(func(txn *badger.Txn) error {
		var chat chatRecord
		found, err := getJSON(txn, chatKey(chatID), &chat)
		if err != nil {
			return err
		}
		if !found || !chat.ownedBy(scope) {
			return ErrNotFound
		}

		now := s.now()
		msg := messageRecord{
			ID:        id,
			ChatID:    chatID,
			Role:      req.Role,
			Content:   req.Content,
			Citations: datatypes.CloneCitations(req.Citations),
			CreatedAt: now,
		}
		if err := putJSON(txn, messageKey(chatID, id), msg); err != nil {
			return err
		}
		chat.UpdatedAt = now
		return putJSON(txn, chatKey(chatID), chat)
	})
	if err != nil {
		return "", fmt.Errorf("add message to %s: %w", chatID, err)
	}
	return id, nil
}

// Close stops value log GC and closes the database. Safe to call more
// than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("chat store value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("chat store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func chatKey(id string) []byte {
	return []byte(chatPrefix + id)
}

func messageKeyPrefix(chatID string) []byte {
	return []byte(messagePrefix + chatID + "/")
}

func messageKey(chatID, id string) []byte {
	return []byte(messagePrefix + chatID + "/" + id)
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// getJSON reports false without error when key is absent.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

var _ Store = (*BadgerStore)(nil)
