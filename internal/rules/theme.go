package rules

import (
	"context"
	"strings"

	"crashproc/internal/models"
)

// DefaultThemeIDs maps theme addon ids to the label appended to them.
var DefaultThemeIDs = map[string]string{
	"{972ce4c6-7e08-4474-a285-3208198ce6fd}": "{972ce4c6-7e08-4474-a285-3208198ce6fd} (default theme)",
}

// ThemePrettyNameRule labels well known theme ids in the addons list.
type ThemePrettyNameRule struct {
	// Themes overrides DefaultThemeIDs when set.
	Themes map[string]string
}

// Name implements Rule.
func (r *ThemePrettyNameRule) Name() string { return "ThemePrettyNameRule" }

func (r *ThemePrettyNameRule) themes() map[string]string {
	if r.Themes != nil {
		return r.Themes
	}

	return DefaultThemeIDs
}

// Predicate implements Rule.
func (r *ThemePrettyNameRule) Predicate(_ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) bool {
	themes := r.themes()

	for _, addon := range addonList(processed["addons"]) {
		id, _, _ := strings.Cut(addon, ":")
		if _, ok := themes[id]; ok {
			return true
		}
	}

	return false
}

// Action implements Rule.
func (r *ThemePrettyNameRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	themes := r.themes()
	addons := addonList(processed["addons"])

	out := make([]string, len(addons))
	for i, addon := range addons {
		id, version, hasVersion := strings.Cut(addon, ":")

		pretty, ok := themes[id]
		switch {
		case !ok:
			out[i] = addon
		case hasVersion:
			out[i] = pretty + ":" + version
		default:
			out[i] = pretty
		}
	}

	processed["addons"] = out

	return nil
}

// addonList accepts the addons field as written by AddonsRule or as decoded
// from JSON.
func addonList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	}

	return nil
}
