// Package crashstorage reads raw crashes and their dumps and persists
// processed crashes.
package crashstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"crashproc/internal/models"
)

// Storage errors.
var (
	ErrNotFound        = errors.New("crash not found")
	ErrInvalidCrashID  = errors.New("invalid crash id")
	ErrInvalidDumpName = errors.New("invalid dump name")
)

// Source provides the inputs of a pipeline run.
type Source interface {
	GetRawCrash(ctx context.Context, crashID string) (models.RawCrash, error)
	GetDumps(ctx context.Context, crashID string) (models.RawDumps, error)
}

// Destination persists pipeline output.
type Destination interface {
	SaveProcessed(ctx context.Context, crashID string, processed models.ProcessedCrash) error
}

// Store is a backend that holds both raw and processed crashes.
type Store interface {
	Source
	Destination
	SaveRawCrash(ctx context.Context, crashID string, raw models.RawCrash, dumps map[string][]byte) error
	GetProcessed(ctx context.Context, crashID string) (models.ProcessedCrash, error)
}

// ValidateCrashID checks that id is a UUID in canonical form. Crash ids
// become path segments and object keys, so nothing else is accepted.
func ValidateCrashID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidCrashID, id, err)
	}

	if parsed.String() != strings.ToLower(id) {
		return fmt.Errorf("%w %q: not in canonical form", ErrInvalidCrashID, id)
	}

	return nil
}

// ValidateDumpName rejects names that cannot be used as a single path
// segment.
func ValidateDumpName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidDumpName, name)
	}

	return nil
}

// DecodeRawCrash parses a raw crash document. Numbers are kept as
// json.Number so large integers survive.
func DecodeRawCrash(data []byte) (models.RawCrash, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw models.RawCrash
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse raw crash: %w", err)
	}

	if raw == nil {
		return nil, errors.New("failed to parse raw crash: document is null")
	}

	return raw, nil
}

// DecodeProcessed parses a stored processed crash.
func DecodeProcessed(data []byte) (models.ProcessedCrash, error) {
	var processed models.ProcessedCrash
	if err := json.Unmarshal(data, &processed); err != nil {
		return nil, fmt.Errorf("failed to parse processed crash: %w", err)
	}

	return processed, nil
}

// MultiDestination saves to every destination in order. All destinations
// are attempted; the errors are joined.
type MultiDestination []Destination

// SaveProcessed implements Destination.
func (m MultiDestination) SaveProcessed(ctx context.Context, crashID string, processed models.ProcessedCrash) error {
	var errs []error

	for _, d := range m {
		if err := d.SaveProcessed(ctx, crashID, processed); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
