package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const stateFileName = "state.json.gz"

// FileStore persists the discovery state as a single gzip-compressed JSON
// blob in the state directory. Saves write to a temporary file in the same
// directory and rename it over the blob, so a failed save leaves the previous
// blob intact.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Load reads the persisted state. A missing blob returns nil without error;
// a blob that cannot be decoded is an error, since silently starting empty
// would reassign every id.
func (s *FileStore) Load() (*state.State, error) {
	path := s.path()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open state blob %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read state blob %s: %w", path, err)
	}
	defer gz.Close()

	var st state.State
	if err := json.NewDecoder(gz).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode state blob %s: %w", path, err)
	}
	return &st, nil
}

// Save atomically replaces the persisted blob with the given state.
func (s *FileStore) Save(st *state.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state blob: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush state blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state blob: %w", err)
	}

	if err := os.Rename(tmpPath, s.path()); err != nil {
		return fmt.Errorf("failed to replace state blob: %w", err)
	}
	s.logger.Debug("state persisted", zap.String("path", s.path()), zap.Int("bytes", len(data)))
	return nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, stateFileName)
}
