package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// ErrBadSubmittedTimestamp is returned when the collector timestamp cannot
// be parsed. None of the dependent date fields are written in that case.
var ErrBadSubmittedTimestamp = errors.New("unparseable submitted_timestamp")

// crashTimeMaxLength bounds the CrashTime annotation to epoch seconds.
const crashTimeMaxLength = 10

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseISODate parses the ISO-8601 timestamps written by the collector.
// Values without a zone are taken as UTC.
func ParseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrBadSubmittedTimestamp, s)
}

// DatesAndTimesRule derives crash, install, uptime and last crash values.
type DatesAndTimesRule struct{ Always }

// Name implements Rule.
func (r *DatesAndTimesRule) Name() string { return "DatesAndTimesRule" }

// Action implements Rule.
func (r *DatesAndTimesRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	submitted := meta.Now

	if s, ok := asString(raw["submitted_timestamp"]); ok && s != "" {
		t, err := ParseISODate(s)
		if err != nil {
			return err
		}

		submitted = t
	} else {
		meta.AddNote(missingNote("submitted_timestamp"))
	}

	processed["submitted_timestamp"] = submitted
	processed["date_processed"] = submitted
	submittedEpoch := submitted.Unix()

	timestamp := submittedEpoch
	if v, ok := raw["timestamp"]; ok {
		n, ok := tree.AsInt(v)
		if !ok {
			meta.AddNote(nonIntegerNote("timestamp"))
		}

		timestamp = n
	}

	crashTime := timestamp
	if v, ok := raw["CrashTime"]; ok {
		if s, isString := v.(string); isString && len(s) > crashTimeMaxLength {
			v = s[:crashTimeMaxLength]
		}

		n, ok := tree.AsInt(v)
		if !ok {
			meta.AddNote(nonIntegerNote("CrashTime"))
		}

		crashTime = n
	} else {
		meta.AddNote(missingNote("CrashTime"))
	}

	processed["crash_time"] = crashTime
	if crashTime == submittedEpoch {
		meta.AddNote("client_crash_date is unknown")
	}

	processed["client_crash_date"] = time.Unix(crashTime, 0).UTC()

	var installTime int64
	if v, ok := raw["InstallTime"]; ok {
		n, ok := tree.AsInt(v)
		if !ok {
			meta.AddNote(nonIntegerNote("InstallTime"))
		}

		installTime = n
	} else {
		meta.AddNote(missingNote("InstallTime"))
	}

	processed["install_age"] = crashTime - installTime

	// Without a recorded startup the process is taken to have lived for the
	// whole crash_time.
	uptime := crashTime
	if v, ok := raw["StartupTime"]; ok {
		startup, ok := tree.AsInt(v)
		if !ok {
			meta.AddNote(nonIntegerNote("StartupTime"))
		}

		uptime = crashTime - startup
	}

	processed["uptime"] = uptime

	processed["last_crash"] = nil
	if v, ok := raw["SecondsSinceLastCrash"]; ok {
		if n, ok := tree.AsInt(v); ok {
			processed["last_crash"] = n
		} else {
			meta.AddNote(nonIntegerNote("SecondsSinceLastCrash"))
		}
	}

	return nil
}
