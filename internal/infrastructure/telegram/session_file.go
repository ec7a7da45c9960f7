package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/gotd/td/session"
)

// fileStorage implements session.Storage backed by a single file at an
// explicit path. The path is owned by the session store, which decides
// the country-scoped layout.
type fileStorage struct {
	path string
}

func newFileStorage(path string) *fileStorage {
	return &fileStorage{path: path}
}

// LoadSession loads session data from file
func (s *fileStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	// An empty file is a freshly created temp session, not a session.
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}

	return data, nil
}

// StoreSession stores session data to file
func (s *fileStorage) StoreSession(ctx context.Context, data []byte) error {
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Ensure fileStorage implements session.Storage interface
var _ session.Storage = (*fileStorage)(nil)
