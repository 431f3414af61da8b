package rules

import (
	"context"
	"strconv"
	"strings"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// maxMacMinorVersion is the last OS X 10.x release with a label.
const maxMacMinorVersion = 19

type windowsVersion struct{ major, minor int }

var windowsNames = map[windowsVersion]string{
	{3, 5}:  "Windows NT",
	{4, 0}:  "Windows NT",
	{4, 1}:  "Windows 98",
	{4, 9}:  "Windows Me",
	{5, 0}:  "Windows 2000",
	{5, 1}:  "Windows XP",
	{5, 2}:  "Windows Server 2003",
	{6, 0}:  "Windows Vista",
	{6, 1}:  "Windows 7",
	{6, 2}:  "Windows 8",
	{6, 3}:  "Windows 8.1",
	{10, 0}: "Windows 10",
}

// OSPrettyVersionRule derives a human readable operating system name.
type OSPrettyVersionRule struct{ Always }

// Name implements Rule.
func (r *OSPrettyVersionRule) Name() string { return "OSPrettyVersionRule" }

// Action implements Rule.
func (r *OSPrettyVersionRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	name, ok := processed["os_name"].(string)
	if !ok || name == "" {
		processed["os_pretty_version"] = nil
		return nil
	}

	version, _ := processed["os_version"].(string)
	processed["os_pretty_version"] = PrettyOSVersion(name, version, map[string]any(processed))

	return nil
}

// PrettyOSVersion maps an os name and version to a display name. The
// processed crash supplies the lsb_release description for Linux.
func PrettyOSVersion(name, version string, processed map[string]any) string {
	if name == "Linux" {
		if desc := tree.String(processed, "json_dump.lsb_release.description", ""); desc != "" {
			return desc
		}
	}

	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return name
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return name
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return name
	}

	switch name {
	case "Windows NT":
		if pretty, ok := windowsNames[windowsVersion{major, minor}]; ok {
			return pretty
		}

		return "Windows Unknown"
	case "Mac OS X":
		if major == 10 && minor >= 0 && minor <= maxMacMinorVersion {
			return "OS X 10." + strconv.Itoa(minor)
		}

		return "OS X Unknown"
	}

	return name
}
