package processor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crashproc/internal/models"
)

// Validation errors.
var (
	ErrMissingCrashID = errors.New("missing crash id")
	ErrInvalidCrashID = errors.New("invalid crash id")
	ErrNilRawCrash    = errors.New("raw crash is nil")
	ErrCrashIDClash   = errors.New("raw crash uuid does not match crash id")
)

// Validator checks the inputs of a pipeline run.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that crashID is a UUID and that the raw crash, when it
// names itself, names the same crash.
func (v *Validator) Validate(crashID string, raw models.RawCrash) error {
	if crashID == "" {
		return ErrMissingCrashID
	}

	if _, err := uuid.Parse(crashID); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidCrashID, crashID, err)
	}

	if raw == nil {
		return ErrNilRawCrash
	}

	if id, ok := raw["uuid"].(string); ok && id != "" && id != crashID {
		return fmt.Errorf("%w: %s != %s", ErrCrashIDClash, id, crashID)
	}

	return nil
}
