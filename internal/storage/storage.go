// Package storage persists conversation snapshots and room state as JSON files.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/yabot-dev/yabot/pkg/types"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	conversationsDir = "conversations"
	roomsDir         = "rooms"
)

// Store provides file-based JSON storage rooted at a directory.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*fileLock
}

// New creates a new Store instance.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
	}
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string { return s.basePath }

// SaveConversation writes a conversation snapshot.
func (s *Store) SaveConversation(ctx context.Context, snap *types.ConversationSnapshot) error {
	return s.put(ctx, s.file(conversationsDir, snap.ConvID), snap)
}

// LoadConversation reads one conversation snapshot.
func (s *Store) LoadConversation(ctx context.Context, convID string) (*types.ConversationSnapshot, error) {
	var snap types.ConversationSnapshot
	if err := s.get(ctx, s.file(conversationsDir, convID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeleteConversation removes a conversation snapshot.
func (s *Store) DeleteConversation(ctx context.Context, convID string) error {
	return s.delete(ctx, s.file(conversationsDir, convID))
}

// Conversations loads every stored snapshot ordered by creation time.
// Unreadable files are skipped.
func (s *Store) Conversations(ctx context.Context) ([]*types.ConversationSnapshot, error) {
	var out []*types.ConversationSnapshot
	err := s.scan(ctx, conversationsDir, func(data []byte) error {
		var snap types.ConversationSnapshot
		if json.Unmarshal(data, &snap) == nil && snap.ConvID != "" {
			out = append(out, &snap)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// SaveRoom writes room state.
func (s *Store) SaveRoom(ctx context.Context, room *types.RoomState) error {
	return s.put(ctx, s.file(roomsDir, room.RoomID), room)
}

// Rooms loads every stored room.
func (s *Store) Rooms(ctx context.Context) ([]*types.RoomState, error) {
	var out []*types.RoomState
	err := s.scan(ctx, roomsDir, func(data []byte) error {
		var room types.RoomState
		if json.Unmarshal(data, &room) == nil && room.RoomID != "" {
			out = append(out, &room)
		}
		return nil
	})
	return out, err
}

// file maps a key to a file name. Room ids such as "!abc:example.org"
// contain characters that are not portable in file names.
func (s *Store) file(kind, key string) string {
	return filepath.Join(s.basePath, kind, escapeKey(key)+".json")
}

func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "%%%02X", r)
		}
	}
	return b.String()
}

func (s *Store) get(ctx context.Context, filePath string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// put stores a value with file locking and an atomic rename.
func (s *Store) put(ctx context.Context, filePath string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.getLock(filePath)
	if err := lock.acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, kind string, fn func(data []byte) error) error {
	dirPath := filepath.Join(s.basePath, kind)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			continue
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return nil
}

// getLock returns the lock guarding a file path.
func (s *Store) getLock(filePath string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = newFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
