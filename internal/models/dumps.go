package models

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrDumpNotFound is returned when a named raw dump does not exist.
var ErrDumpNotFound = errors.New("raw dump not found")

// RawDumps gives read access to the binary artifacts submitted with a crash.
type RawDumps interface {
	// Names lists the available artifact names.
	Names() []string
	// Open returns a stream over the named artifact. Callers must close it.
	Open(name string) (io.ReadCloser, error)
}

// HasDump reports whether dumps contains an artifact called name.
func HasDump(dumps RawDumps, name string) bool {
	if dumps == nil {
		return false
	}

	for _, n := range dumps.Names() {
		if n == name {
			return true
		}
	}

	return false
}

// MemoryDumps holds artifact contents in memory.
type MemoryDumps map[string][]byte

// Names implements RawDumps.
func (d MemoryDumps) Names() []string {
	return sortedKeys(d)
}

// Open implements RawDumps.
func (d MemoryDumps) Open(name string) (io.ReadCloser, error) {
	data, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, name)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// FileDumps maps artifact names to paths on the local filesystem.
type FileDumps map[string]string

// Names implements RawDumps.
func (d FileDumps) Names() []string {
	return sortedKeys(d)
}

// Open implements RawDumps.
func (d FileDumps) Open(name string) (io.ReadCloser, error) {
	path, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, name)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump %s: %w", name, err)
	}

	return f, nil
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}
