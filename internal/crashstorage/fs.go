package crashstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"crashproc/internal/models"
)

var _ Store = (*FSStore)(nil)

// FSStore keeps crashes under a root directory:
//
//	<root>/raw/<crash_id>.json
//	<root>/dumps/<crash_id>/<name>
//	<root>/processed/<crash_id>.json
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("filesystem root is required")
	}

	return &FSStore{root: root}, nil
}

// RawPath returns the raw crash file of crashID.
func (s *FSStore) RawPath(crashID string) string {
	return filepath.Join(s.root, "raw", crashID+".json")
}

// DumpDir returns the directory holding the dumps of crashID.
func (s *FSStore) DumpDir(crashID string) string {
	return filepath.Join(s.root, "dumps", crashID)
}

// ProcessedPath returns the processed crash file of crashID.
func (s *FSStore) ProcessedPath(crashID string) string {
	return filepath.Join(s.root, "processed", crashID+".json")
}

// GetRawCrash implements Source.
func (s *FSStore) GetRawCrash(_ context.Context, crashID string) (models.RawCrash, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	data, err := readFile(s.RawPath(crashID))
	if err != nil {
		return nil, err
	}

	return DecodeRawCrash(data)
}

// GetDumps implements Source. A crash without a dump directory has no
// dumps.
func (s *FSStore) GetDumps(_ context.Context, crashID string) (models.RawDumps, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	dir := s.DumpDir(crashID)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return models.FileDumps{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list dumps of %s: %w", crashID, err)
	}

	dumps := make(models.FileDumps, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			dumps[e.Name()] = filepath.Join(dir, e.Name())
		}
	}

	return dumps, nil
}

// GetProcessed reads a processed crash saved by SaveProcessed.
func (s *FSStore) GetProcessed(_ context.Context, crashID string) (models.ProcessedCrash, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	data, err := readFile(s.ProcessedPath(crashID))
	if err != nil {
		return nil, err
	}

	return DecodeProcessed(data)
}

// SaveProcessed implements Destination. The file is replaced atomically.
func (s *FSStore) SaveProcessed(_ context.Context, crashID string, processed models.ProcessedCrash) error {
	if err := ValidateCrashID(crashID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(processed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode processed crash %s: %w", crashID, err)
	}

	return writeFileAtomic(s.ProcessedPath(crashID), data)
}

// SaveRawCrash stores a raw crash and its dumps.
func (s *FSStore) SaveRawCrash(_ context.Context, crashID string, raw models.RawCrash, dumps map[string][]byte) error {
	if err := ValidateCrashID(crashID); err != nil {
		return err
	}

	for name := range dumps {
		if err := ValidateDumpName(name); err != nil {
			return err
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw crash %s: %w", crashID, err)
	}

	if err := writeFileAtomic(s.RawPath(crashID), data); err != nil {
		return err
	}

	for name, content := range dumps {
		if err := writeFileAtomic(filepath.Join(s.DumpDir(crashID), name), content); err != nil {
			return err
		}
	}

	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
