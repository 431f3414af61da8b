// Package rules implements the transformation steps of the crash processing
// pipeline.
//
// A rule reads the raw crash, the raw dumps and the processed crash built so
// far, and writes derived fields into the processed crash. Rules never keep
// references to these containers past a single call. Fallible parsing is
// turned into a processor note plus a documented default; an error returned
// from Action is reserved for failures that should be recorded against the
// rule as a whole.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"crashproc/internal/models"
)

// Rule is one step of the pipeline.
type Rule interface {
	// Name identifies the rule in notes, logs and metrics.
	Name() string
	// Predicate reports whether Action should run for this crash.
	Predicate(raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) bool
	// Action applies the rule.
	Action(ctx context.Context, raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error
}

// Always is embedded by rules that apply to every crash.
type Always struct{}

// Predicate implements Rule.
func (Always) Predicate(models.RawCrash, models.RawDumps, models.ProcessedCrash, *models.Meta) bool {
	return true
}

// Act runs the rule's action when its predicate holds. It reports whether
// the action ran.
func Act(ctx context.Context, r Rule, raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) (bool, error) {
	if !r.Predicate(raw, dumps, processed, meta) {
		return false, nil
	}

	return true, r.Action(ctx, raw, dumps, processed, meta)
}

// asString renders scalar annotation values as text.
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case json.Number:
		return s.String(), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	}

	return "", false
}

// stringOr returns raw[key] as text, or def when it is absent or not a scalar.
func stringOr(raw map[string]any, key, def string) string {
	v, ok := raw[key]
	if !ok {
		return def
	}

	s, ok := asString(v)
	if !ok {
		return def
	}

	return s
}

// stringOrNil returns raw[key] as text, or nil when it is absent.
func stringOrNil(raw map[string]any, key string) any {
	v, ok := raw[key]
	if !ok {
		return nil
	}

	s, ok := asString(v)
	if !ok {
		return nil
	}

	return s
}

func nonIntegerNote(field string) string {
	return fmt.Sprintf("non-integer value of %q", field)
}

func missingNote(field string) string {
	return "WARNING: raw_crash missing " + field
}
