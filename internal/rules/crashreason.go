package rules

import (
	"context"
	"regexp"

	"crashproc/internal/models"
)

// SanitizedCrashReason replaces a MozCrashReason that is not known to be
// free of user data.
const SanitizedCrashReason = "sanitized--see moz_crash_reason_raw"

// safeCrashReason matches the assertion macros whose message is a compile
// time literal.
var safeCrashReason = regexp.MustCompile(`^(MOZ_CRASH|MOZ_RELEASE_ASSERT|MOZ_DIAGNOSTIC_ASSERT)\([^\x00-\x1f/\\]{0,255}\)$`)

// MozCrashReasonRule copies MozCrashReason and sanitizes the public copy.
type MozCrashReasonRule struct{}

// Name implements Rule.
func (r *MozCrashReasonRule) Name() string { return "MozCrashReasonRule" }

// Predicate implements Rule.
func (r *MozCrashReasonRule) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return raw.Has("MozCrashReason")
}

// Action implements Rule.
func (r *MozCrashReasonRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	reason, _ := asString(raw["MozCrashReason"])

	processed["moz_crash_reason_raw"] = reason
	processed["moz_crash_reason"] = SanitizeCrashReason(reason)

	return nil
}

// SanitizeCrashReason returns reason when it is a known safe assertion and
// SanitizedCrashReason otherwise.
func SanitizeCrashReason(reason string) string {
	if safeCrashReason.MatchString(reason) {
		return reason
	}

	return SanitizedCrashReason
}
