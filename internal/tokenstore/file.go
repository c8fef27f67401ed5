package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps every user token in one JSON document. Writes are
// serialized and replace the file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token store directory: %w", err)
	}

	s := &FileStore{path: path, now: time.Now}

	// Fail at startup rather than on the first login if the file is corrupt.
	if _, err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) Get(ctx context.Context, username string) (*UserToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return nil, err
	}

	tok, ok := tokens[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (s *FileStore) Upsert(ctx context.Context, token UserToken) error {
	if token.Username == "" {
		return errors.New("username is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}

	token.UpdatedAt = s.now().UTC()
	tokens[token.Username] = token

	return s.save(tokens)
}

func (s *FileStore) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := tokens[username]; !ok {
		return nil
	}
	delete(tokens, username)

	return s.save(tokens)
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() (map[string]UserToken, error) {
	tokens := make(map[string]UserToken)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return tokens, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}

	if len(data) == 0 {
		return tokens, nil
	}

	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token store: %w", err)
	}

	return tokens, nil
}

func (s *FileStore) save(tokens map[string]UserToken) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".user-tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token store: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token store: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token store: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token store: %w", err)
	}

	return nil
}
