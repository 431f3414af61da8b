package rules

import (
	"context"
	"errors"
	"strings"

	"crashproc/internal/models"
)

var errMalformedJavaTrace = errors.New("malformed java stack trace")

// JavaProcessRule keeps a scrubbed copy of the Java stack trace.
//
// The exception message and any Caused by or Suppressed blocks can carry
// user data, so only the exception type and its own frames are kept.
type JavaProcessRule struct{}

// Name implements Rule.
func (r *JavaProcessRule) Name() string { return "JavaProcessRule" }

// Predicate implements Rule.
func (r *JavaProcessRule) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	s, ok := raw["JavaStackTrace"].(string)
	return ok && s != ""
}

// Action implements Rule.
func (r *JavaProcessRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	trace, _ := raw["JavaStackTrace"].(string)
	processed["java_stack_trace_raw"] = trace

	scrubbed, err := ScrubJavaStackTrace(trace)
	if err != nil {
		processed["java_stack_trace"] = "malformed"
		meta.AddNote(r.Name() + ": " + err.Error())

		return nil
	}

	processed["java_stack_trace"] = scrubbed

	return nil
}

// ScrubJavaStackTrace reduces a Java stack trace to the exception type and
// the frames of the outermost exception.
func ScrubJavaStackTrace(trace string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(trace, "\r\n", "\n"), "\n")

	header, _, _ := strings.Cut(strings.TrimSpace(lines[0]), ": ")
	if header == "" {
		return "", errMalformedJavaTrace
	}

	out := []string{header}
	frames := 0
	skipDepth := -1

	for _, line := range lines[1:] {
		stripped := strings.TrimLeft(line, " \t")
		if stripped == "" {
			continue
		}

		indent := len(line) - len(stripped)
		if skipDepth >= 0 {
			if indent > skipDepth {
				continue
			}

			skipDepth = -1
		}

		switch {
		case strings.HasPrefix(stripped, "Caused by:"), strings.HasPrefix(stripped, "Suppressed:"):
			skipDepth = indent
		case strings.HasPrefix(stripped, "at "):
			out = append(out, "\t"+stripped)
			frames++
		case strings.HasPrefix(stripped, "...") && strings.HasSuffix(stripped, " more"):
			out = append(out, "\t"+stripped)
		default:
			return "", errMalformedJavaTrace
		}
	}

	if frames == 0 {
		return "", errMalformedJavaTrace
	}

	return strings.Join(out, "\n"), nil
}
