// Package filestore persists the watcher state as a JSON document on local disk.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.StateRepository = (*StateStore)(nil)

// StateStore reads and writes a single JSON file. Saves go through a
// temporary file in the same directory followed by a rename, so readers see
// either the previous or the new document.
type StateStore struct {
	path     string
	defaults entity.State
	logger   *slog.Logger

	mu sync.Mutex
}

// NewStateStore creates a store at path. Keys missing from the file are
// filled from defaults on Load.
func NewStateStore(path string, defaults entity.State, logger *slog.Logger) (*StateStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{
		path:     path,
		defaults: defaults,
		logger:   logger.With("component", "file-state-store", "path", path),
	}, nil
}

// Load reads the state file.
func (s *StateStore) Load(ctx context.Context) (*entity.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, entity.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	return entity.DecodeState(data, s.defaults)
}

// Save atomically replaces the state file.
func (s *StateStore) Save(ctx context.Context, st *entity.State) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}
	data, err := entity.EncodeState(*st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	committed = true

	s.logger.Debug("state saved", "bytes", len(data), "history", len(st.History))
	return nil
}
