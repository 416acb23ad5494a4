// Package jsonfile persists per-chat message caches as JSON files so a
// reopened chat renders instantly while the fresh copy loads. Only
// server-confirmed rows are cached; optimistic placeholders never touch disk.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ferndale-health/stitch/internal/core/chat"
)

const defaultMaxMessages = 200

// ChatFile is the root JSON structure stored per chat.
type ChatFile struct {
	ChatID    string         `json:"chat_id"`
	Messages  []chat.Message `json:"messages"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CacheStore implements the conversation cache using per-chat JSON files.
type CacheStore struct {
	chatsDir    string
	maxMessages int
	mu          sync.RWMutex
}

// NewCacheStore creates a cache store at the given directory.
// The chatsDir should be the full path to the chats directory
// (e.g., $XDG_DATA_HOME/stitch/cache/chats).
func NewCacheStore(chatsDir string) *CacheStore {
	return &CacheStore{
		chatsDir:    chatsDir,
		maxMessages: defaultMaxMessages,
	}
}

// WithMaxMessages sets the maximum number of messages to retain per chat.
func (s *CacheStore) WithMaxMessages(max int) *CacheStore {
	s.maxMessages = max
	return s
}

// chatPath returns the file path for a chat.
func (s *CacheStore) chatPath(chatID string) string {
	safe := strings.ReplaceAll(chatID, "/", "_")
	return filepath.Join(s.chatsDir, safe+".json")
}

// lockPath returns the lock file path for a chat.
func (s *CacheStore) lockPath(chatID string) string {
	return s.chatPath(chatID) + ".lock"
}

// withSharedLock executes fn while holding a shared (read) file lock.
func (s *CacheStore) withSharedLock(chatID string, fn func() error) error {
	return s.withFileLock(chatID, syscall.LOCK_SH, fn)
}

// withExclusiveLock executes fn while holding an exclusive (write) file lock.
func (s *CacheStore) withExclusiveLock(chatID string, fn func() error) error {
	return s.withFileLock(chatID, syscall.LOCK_EX, fn)
}

// withFileLock acquires a file lock, executes fn, then releases the lock.
func (s *CacheStore) withFileLock(chatID string, lockType int, fn func() error) error {
	if err := os.MkdirAll(s.chatsDir, 0o755); err != nil {
		return fmt.Errorf("create chats directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(chatID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Load reads the cached messages for a chat. A missing cache is not an
// error; it returns an empty slice.
func (s *CacheStore) Load(chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []chat.Message
	err := s.withSharedLock(chatID, func() error {
		file, err := s.loadChat(chatID)
		if err != nil {
			return err
		}
		messages = file.Messages
		return nil
	})
	if err != nil {
		return nil, err
	}

	return chat.SortMessages(messages), nil
}

// Save replaces the cached messages for a chat. Optimistic placeholders are
// filtered out: a placeholder resurrected from disk could never reconcile.
func (s *CacheStore) Save(chatID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsOptimistic || chat.IsTempID(msg.ID) {
			continue
		}
		confirmed = append(confirmed, msg)
	}
	confirmed = chat.SortMessages(confirmed)

	if len(confirmed) > s.maxMessages {
		confirmed = confirmed[len(confirmed)-s.maxMessages:]
	}

	return s.withExclusiveLock(chatID, func() error {
		return s.saveChat(ChatFile{
			ChatID:    chatID,
			Messages:  confirmed,
			UpdatedAt: time.Now().UTC(),
		})
	})
}

// Delete removes a chat's cache file. Missing files are ignored.
func (s *CacheStore) Delete(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(chatID, func() error {
		if err := os.Remove(s.chatPath(chatID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove chat cache: %w", err)
		}
		return nil
	})
}

// List returns the chat ids with a cache file, oldest first.
func (s *CacheStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.chatsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chats directory: %w", err)
	}

	var chats []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			chats = append(chats, strings.TrimSuffix(name, ".json"))
		}
	}

	return chats, nil
}

// loadChat reads a chat file from disk.
// Returns an empty file if it doesn't exist.
func (s *CacheStore) loadChat(chatID string) (ChatFile, error) {
	data, err := os.ReadFile(s.chatPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return ChatFile{ChatID: chatID}, nil
		}
		return ChatFile{}, fmt.Errorf("read chat cache: %w", err)
	}

	if len(data) == 0 {
		return ChatFile{ChatID: chatID}, nil
	}

	var file ChatFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ChatFile{}, fmt.Errorf("parse chat cache: %w", err)
	}

	return file, nil
}

// saveChat writes a chat file to disk atomically.
func (s *CacheStore) saveChat(file ChatFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chat cache: %w", err)
	}

	path := s.chatPath(file.ChatID)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
