package rules

import (
	"context"
	"regexp"
	"strings"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// ExploitabilityRule copies the stackwalker's exploitability rating.
type ExploitabilityRule struct{ Always }

// Name implements Rule.
func (r *ExploitabilityRule) Name() string { return "ExploitabilityRule" }

// Action implements Rule.
func (r *ExploitabilityRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["exploitability"] = tree.String(map[string]any(processed), "json_dump.sensitive.exploitability", "unknown")
	return nil
}

// UnknownFlashVersion is used when no loaded module identifies Flash.
const UnknownFlashVersion = "unknown"

var flashFilename = regexp.MustCompile(`^(?:NPSWF32_?(.*)\.dll|FlashPlayerPlugin_?(.*)\.exe|libflashplayer(.*)\.(.*)|Flash ?Player-?(.*))`)

// KnownFlashDebugIDs maps debug identifiers of Flash builds that carry no
// version in their filename.
var KnownFlashDebugIDs = map[string]string{
	"7224164B5918E29AF52365AF3EAF7A500": "10.1.51.66",
	"C6CDEFCDB58EFE5C6ECEF0C463C979F80": "10.1.51.66",
	"4EDBBD7016E8871A461CCABB7F1B16120": "10.1",
	"D1AAAB5D417861E6A5B835B01D3039550": "10.0.45.2",
	"EBD27FDBA9D9B3880550B2446902EC4A0": "10.0.45.2",
	"266780DB53C4AAC830AFF69306C5C0300": "10.0.42.34",
	"C4D637F2C8494896FBD4B3EF0319EBAC0": "10.0.42.34",
	"B19EE2363941C9582E040B99BB5E237A0": "10.0.32.18",
	"025105C956638D665850591768FB743D0": "10.0.32.18",
	"986682965B43DFA62E0A0DFFD7B7417F0": "10.0.23",
	"937DDCC422411E58EF6AD13710B0EF190": "10.0.23",
	"860692A215F054B7B9474B410ABEB5300": "10.0.22.87",
	"77CB5AC61C456B965D0B41361B3F6CEA0": "10.0.22.87",
	"38AEB67F6A0B43C6A341D7936603E84A0": "10.0.12.36",
	"776944FD51654CA2B59AB26A33D8F9B30": "10.0.12.36",
	"974873A0A6AD482F8F17A7C55F0A33390": "9.0.262.0",
	"B482D3DFD57C23B5754966F42D4CBCB60": "9.0.262.0",
	"0B03252A5C303973E320CAA6127441F80": "9.0.260.0",
	"AE71D92D2812430FA05238C52F7E20310": "9.0.246.0",
	"6761F4FA49B5F55833D66CAC0BBF8CB80": "9.0.246.0",
	"27CC04C9588E482A948FB5A87E22687B0": "9.0.159.0",
	"1C8715E734B31A2EACE3B0CFC1CF21EB0": "9.0.159.0",
	"F43004FFC4944F26AF228334F2CDA80B0": "9.0.151.0",
	"890664D4EF567481ACFD2A21E9D2A2420": "9.0.151.0",
	"8355DCF076564B6784C517FD0ECCB2F20": "9.0.124.0",
	"51C00B72112812428EFA8F4A37F683A80": "9.0.124.0",
	"9FA57B6DC7FF4CFE9A518442325E91CB0": "9.0.115.0",
	"03D99C42D7475B46D77E64D4D5386D6D0": "9.0.115.0",
	"0CFAF1611A3C4AA382D26424D609F00B0": "9.0.47.0",
	"0F3262B5501A34B963E5DF3F0386C9910": "9.0.47.0",
	"C5B5651B46B7612E118339D19A6E66360": "9.0.45.0",
	"BF6B3B51ACB255B38FCD8AA5AEB9F1030": "9.0.28.0",
	"83CF4DC03621B778E931FC713889E8F10": "9.0.16.0",
}

// FlashVersionRule reports the version of the Flash plugin loaded in the
// crashing process.
type FlashVersionRule struct {
	Always
	// KnownVersions overrides KnownFlashDebugIDs when set.
	KnownVersions map[string]string
}

// Name implements Rule.
func (r *FlashVersionRule) Name() string { return "FlashVersionRule" }

// Action implements Rule.
func (r *FlashVersionRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	version := UnknownFlashVersion

	modules, _ := tree.Slice(map[string]any(processed), "json_dump.modules")
	for _, m := range modules {
		module, ok := tree.AsMap(m)
		if !ok {
			continue
		}

		if v := r.moduleVersion(module); v != "" {
			version = v
			break
		}
	}

	processed["flash_version"] = version

	return nil
}

func (r *FlashVersionRule) moduleVersion(module map[string]any) string {
	groups := flashFilename.FindStringSubmatch(tree.String(module, "filename", ""))
	if groups == nil {
		return ""
	}

	if v := tree.String(module, "version", ""); v != "" {
		return v
	}

	switch {
	case groups[1] != "":
		return strings.ReplaceAll(groups[1], "_", ".")
	case groups[2] != "":
		return strings.ReplaceAll(groups[2], "_", ".")
	case groups[3] != "":
		return groups[3]
	case groups[5] != "":
		return groups[5]
	}

	known := r.KnownVersions
	if known == nil {
		known = KnownFlashDebugIDs
	}

	return known[tree.String(module, "debug_id", "")]
}

// crashingFrames returns the frames of the crashing thread of a json_dump.
func crashingFrames(processed models.ProcessedCrash) ([]any, bool) {
	dump, ok := tree.Map(map[string]any(processed), "json_dump")
	if !ok {
		return nil, false
	}

	v, ok := tree.Get(dump, "crash_info.crashing_thread")
	if !ok {
		return nil, false
	}

	idx, ok := tree.AsInt(v)
	if !ok || idx < 0 {
		return nil, false
	}

	threads, ok := tree.Slice(dump, "threads")
	if !ok || idx >= int64(len(threads)) {
		return nil, false
	}

	return tree.Slice(threads[idx], "frames")
}

// TopMostFilesRule records the first source file in the crashing stack.
type TopMostFilesRule struct{ Always }

// Name implements Rule.
func (r *TopMostFilesRule) Name() string { return "TopMostFilesRule" }

// Action implements Rule.
func (r *TopMostFilesRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["topmost_filenames"] = nil

	frames, ok := crashingFrames(processed)
	if !ok {
		return nil
	}

	for _, frame := range frames {
		if file := tree.String(frame, "file", ""); file != "" {
			processed["topmost_filenames"] = file
			break
		}
	}

	return nil
}

var (
	moduleFilenameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	moduleDebugIDUnsafe  = regexp.MustCompile(`[^A-Fa-f0-9]`)
)

// ModulesInStackRule lists the distinct modules of the crashing stack as
// filename/debug_id pairs joined by ";".
type ModulesInStackRule struct{ Always }

// Name implements Rule.
func (r *ModulesInStackRule) Name() string { return "ModulesInStackRule" }

// Action implements Rule.
func (r *ModulesInStackRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	frames, ok := crashingFrames(processed)
	if !ok || len(frames) == 0 {
		return nil
	}

	modules, ok := tree.Slice(map[string]any(processed), "json_dump.modules")
	if !ok {
		return nil
	}

	byFilename := make(map[string]map[string]any, len(modules))
	for _, m := range modules {
		module, ok := tree.AsMap(m)
		if !ok {
			continue
		}

		if name := tree.String(module, "filename", ""); name != "" {
			byFilename[name] = module
		}
	}

	seen := make(map[string]bool)
	var out []string

	for _, frame := range frames {
		name := tree.String(frame, "module", "")
		if name == "" || seen[name] {
			continue
		}

		seen[name] = true

		module, ok := byFilename[name]
		if !ok {
			module = map[string]any{"filename": name}
		}

		out = append(out, FormatModule(module))
	}

	processed["modules_in_stack"] = strings.Join(out, ";")

	return nil
}

// FormatModule renders a module as "filename/debug_id" with characters
// outside the safe sets removed.
func FormatModule(module map[string]any) string {
	filename := moduleFilenameUnsafe.ReplaceAllString(tree.String(module, "filename", ""), "")
	debugID := moduleDebugIDUnsafe.ReplaceAllString(tree.String(module, "debug_id", ""), "")

	return filename + "/" + debugID
}
