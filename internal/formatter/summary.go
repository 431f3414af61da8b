package formatter

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"crashproc/internal/models"
	"crashproc/pkg/metadata"
)

// Integrity states reported by Summary.
const (
	IntegrityVerified = "verified"
	IntegrityMissing  = "missing"
	IntegrityMismatch = "mismatch"
)

// SummaryFields lists the processed crash fields shown by Summary, in
// order.
var SummaryFields = []string{
	"uuid",
	"signature",
	"product",
	"version",
	"release_channel",
	"build",
	"os_pretty_version",
	"cpu_arch",
	"client_crash_date",
	"date_processed",
	"uptime",
	"install_age",
	"last_crash",
	"exploitability",
	"flash_version",
	"moz_crash_reason",
	"java_stack_trace",
	"topmost_filenames",
	"modules_in_stack",
	"addons",
	"user_comments",
}

// Summary renders the key fields and the processor notes of a processed
// crash as markdown. Fields that are absent or empty are omitted.
func Summary(processed models.ProcessedCrash) string {
	var sb strings.Builder

	id, _ := processed["uuid"].(string)
	fmt.Fprintf(&sb, "# Crash %s\n\n", id)

	sb.WriteString("| Field | Value |\n| --- | --- |\n")

	for _, key := range SummaryFields {
		value := formatValue(processed[key])
		if value == "" {
			continue
		}

		fmt.Fprintf(&sb, "| %s | %s |\n", key, escapeCell(value))
	}

	fmt.Fprintf(&sb, "| success | %t |\n", processed[metadata.KeySuccess] == true)
	fmt.Fprintf(&sb, "| integrity | %s |\n", Integrity(processed))

	notes, _ := processed[metadata.KeyNotes].(string)
	if split := metadata.SplitNotes(notes); len(split) > 0 {
		sb.WriteString("\n## Processor notes\n\n")

		for _, note := range split {
			fmt.Fprintf(&sb, "- %s\n", note)
		}
	}

	return AlignTables(sb.String())
}

// Integrity reports whether the stored content hash matches the record.
func Integrity(processed models.ProcessedCrash) string {
	_, err := metadata.Verify(processed)

	switch {
	case err == nil:
		return IntegrityVerified
	case errors.Is(err, metadata.ErrNoHashFound):
		return IntegrityMissing
	default:
		return IntegrityMismatch
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatValue(item))
		}

		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		return "{" + strings.Join(keys, ", ") + "}"
	}

	return fmt.Sprint(v)
}

// escapeCell keeps a value on one table row.
func escapeCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
