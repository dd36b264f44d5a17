package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// fileSchemaVersion is written into every state file. Files from a newer
// release are ignored rather than misread.
const fileSchemaVersion = 1

type fileEnvelope struct {
	Version int `json:"version"`
	State
}

// FileStore persists run history as a JSON document. Saves are serialized so
// concurrent stacks never interleave partial writes.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("state_file", path).Logger(),
	}
}

// Load reads the state file. A missing, corrupt or newer-schema file yields
// empty history and a warning; the next Save replaces it.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info().Msg("no state file yet, starting with empty history")
		return emptyState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("state file unreadable, starting with empty history")
		return emptyState(), nil
	}
	if envelope.Version > fileSchemaVersion {
		s.logger.Warn().
			Int("version", envelope.Version).
			Int("supported", fileSchemaVersion).
			Msg("state file written by a newer release, starting with empty history")
		return emptyState(), nil
	}
	if envelope.Stacks == nil {
		envelope.Stacks = map[string]StackRecord{}
	}
	return envelope.State, nil
}

// Save replaces the state file atomically.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.Stacks == nil {
		state.Stacks = map[string]StackRecord{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path, fileEnvelope{Version: fileSchemaVersion, State: state}); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// writeAtomic encodes v to a temp file beside path, syncs it and renames it
// into place, so readers see either the old or the new document.
func writeAtomic(path string, v any) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err = encoder.Encode(v); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	// Persist the rename itself; failure here leaves a valid file behind.
	if dirHandle, openErr := os.Open(dir); openErr == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}

func emptyState() State {
	return State{Stacks: map[string]StackRecord{}}
}
