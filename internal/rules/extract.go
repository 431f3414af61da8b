package rules

import (
	"context"
	"net/url"
	"strings"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// ProductRule copies product identity fields.
type ProductRule struct{ Always }

// Name implements Rule.
func (r *ProductRule) Name() string { return "ProductRule" }

// Action implements Rule.
func (r *ProductRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["product"] = stringOr(raw, "ProductName", "")
	processed["version"] = stringOr(raw, "Version", "")
	processed["productid"] = stringOr(raw, "ProductID", "")
	processed["distributor"] = stringOrNil(raw, "Distributor")
	processed["distributor_version"] = stringOrNil(raw, "Distributor_version")
	processed["release_channel"] = stringOr(raw, "ReleaseChannel", "")
	processed["build"] = stringOr(raw, "BuildID", "")

	return nil
}

// UserDataRule copies fields the user entered or that identify them.
type UserDataRule struct{ Always }

// Name implements Rule.
func (r *UserDataRule) Name() string { return "UserDataRule" }

// Action implements Rule.
func (r *UserDataRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["url"] = stringOrNil(raw, "URL")
	processed["user_comments"] = stringOrNil(raw, "Comments")
	processed["email"] = stringOrNil(raw, "Email")
	processed["user_id"] = stringOr(raw, "UserID", "")

	return nil
}

// EnvironmentRule copies the free-form application notes.
type EnvironmentRule struct{ Always }

// Name implements Rule.
func (r *EnvironmentRule) Name() string { return "EnvironmentRule" }

// Action implements Rule.
func (r *EnvironmentRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["app_notes"] = stringOr(raw, "Notes", "")
	return nil
}

// Hang type codes.
const (
	HangTypePlugin  = -1
	HangTypeBrowser = 1
)

// PluginRule classifies hangs and copies plugin details.
type PluginRule struct{ Always }

// Name implements Rule.
func (r *PluginRule) Name() string { return "PluginRule" }

// Action implements Rule.
func (r *PluginRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) error {
	switch {
	case tree.Truthy(raw["PluginHang"]):
		crashID := stringOr(raw, "uuid", meta.CrashID)
		processed["hangid"] = "fake-" + crashID
		processed["hang_type"] = HangTypePlugin
	case tree.Truthy(raw["Hang"]):
		processed["hangid"] = stringOrNil(raw, "HangID")
		processed["hang_type"] = HangTypeBrowser
	}

	processType := stringOrNil(raw, "ProcessType")
	processed["process_type"] = processType

	if processType == "plugin" {
		processed["PluginFilename"] = stringOr(raw, "PluginFilename", "")
		processed["PluginName"] = stringOr(raw, "PluginName", "")
		processed["PluginVersion"] = stringOr(raw, "PluginVersion", "")
	}

	return nil
}

// AddonNoVersion is the version given to add-on entries that carry none.
const AddonNoVersion = "NO_VERSION"

// AddonsRule parses the comma separated add-on list.
type AddonsRule struct{ Always }

// Name implements Rule.
func (r *AddonsRule) Name() string { return "AddonsRule" }

// Action implements Rule.
func (r *AddonsRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["addons_checked"] = strings.ToLower(stringOr(raw, "EMCheckCompatibility", "")) == "true"

	addons := []string{}

	if list := stringOr(raw, "Add-ons", ""); list != "" {
		for _, token := range strings.Split(list, ",") {
			addons = append(addons, formatAddon(token))
		}
	}

	processed["addons"] = addons

	return nil
}

// formatAddon splits "id:version" on the first colon only, so versions that
// themselves contain colons stay intact, and unescapes both halves.
func formatAddon(token string) string {
	id, version, found := strings.Cut(token, ":")
	if !found {
		version = AddonNoVersion
	}

	return unquotePlus(id) + ":" + unquotePlus(version)
}

// unquotePlus decodes form escapes. A malformed escape is kept verbatim
// without spoiling the valid ones around it.
func unquotePlus(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}

	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}

	return c - '0'
}
