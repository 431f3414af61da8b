// Package models holds the data shapes passed through the crash processing pipeline.
package models

import (
	"fmt"
	"time"
)

// RawCrash is the flat annotation mapping submitted with a crash report.
// Keys and values are untrusted; rewrite rules mutate it in place.
type RawCrash map[string]any

// ProcessedCrash is the normalized record accumulated by the rule pipeline.
type ProcessedCrash map[string]any

// Has reports whether key is present in the raw crash.
func (r RawCrash) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Has reports whether key is present in the processed crash.
func (p ProcessedCrash) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Meta is the per-run context shared by every rule of one pipeline execution.
type Meta struct {
	Now     time.Time
	CrashID string
	Notes   []string
}

// NewMeta creates the context for processing crashID at time now.
func NewMeta(crashID string, now time.Time) *Meta {
	return &Meta{
		CrashID: crashID,
		Now:     now.UTC(),
		Notes:   []string{},
	}
}

// AddNote appends a processor note.
func (m *Meta) AddNote(note string) {
	m.Notes = append(m.Notes, note)
}

// AddNotef appends a formatted processor note.
func (m *Meta) AddNotef(format string, args ...any) {
	m.Notes = append(m.Notes, fmt.Sprintf(format, args...))
}
