// Package metadata stamps processed crashes with processing status and a
// content hash.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Keys written by Stamp.Apply and Sign.
const (
	KeyStarted   = "started_datetime"
	KeyCompleted = "completed_datetime"
	KeySuccess   = "success"
	KeyNotes     = "processor_notes"
	KeyHash      = "content_hash"
)

// NotesSeparator joins processor notes into a single field.
const NotesSeparator = "; "

// Metadata verification errors.
var (
	ErrNoHashFound  = errors.New("no hash found in metadata")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Stamp describes one processing run.
type Stamp struct {
	Started   time.Time
	Completed time.Time
	Success   bool
	Notes     []string
}

// Apply writes the stamp into a processed crash.
func (s Stamp) Apply(doc map[string]any) {
	doc[KeyStarted] = s.Started.UTC()
	doc[KeyCompleted] = s.Completed.UTC()
	doc[KeySuccess] = s.Success
	doc[KeyNotes] = strings.Join(s.Notes, NotesSeparator)
}

// SplitNotes reverses the join done by Apply.
func SplitNotes(notes string) []string {
	if notes == "" {
		return nil
	}

	return strings.Split(notes, NotesSeparator)
}

// CalculateHash computes the SHA-256 hash of the document's JSON encoding,
// excluding any existing hash field.
func CalculateHash(doc map[string]any) (string, error) {
	clean := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != KeyHash {
			clean[k] = v
		}
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	hash := sha256.Sum256(data)

	return hex.EncodeToString(hash[:]), nil
}

// Sign stores a fresh content hash in the document.
func Sign(doc map[string]any) error {
	hash, err := CalculateHash(doc)
	if err != nil {
		return err
	}

	doc[KeyHash] = hash

	return nil
}

// Verify checks the document against its stored hash.
func Verify(doc map[string]any) (bool, error) {
	stored, _ := doc[KeyHash].(string)
	if stored == "" {
		return false, ErrNoHashFound
	}

	calculated, err := CalculateHash(doc)
	if err != nil {
		return false, err
	}

	if calculated != stored {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, stored, calculated)
	}

	return true, nil
}
