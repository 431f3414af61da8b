package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"crashproc/internal/metrics"
	"crashproc/internal/models"
	"crashproc/internal/tree"
	"crashproc/pkg/utils"
)

func sinkOrNop(s metrics.Sink) metrics.Sink {
	if s == nil {
		return metrics.Nop{}
	}

	return s
}

// DeNullRule strips NUL characters from raw crash keys and text values.
type DeNullRule struct {
	Always
	Metrics metrics.Sink
}

// Name implements Rule.
func (r *DeNullRule) Name() string { return "DeNullRule" }

// Action implements Rule.
func (r *DeNullRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	hadNulls := false

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	// A key that was already clean keeps its value; otherwise the first
	// colliding key in sorted order wins.
	slices.Sort(keys)

	for _, key := range keys {
		val := raw[key]

		newKey := utils.NewStringHelper().StripNulls(key)
		if newKey != key {
			hadNulls = true

			delete(raw, key)

			if _, taken := raw[newKey]; taken {
				continue
			}
		}

		newVal, changed := deNull(val)
		if changed {
			hadNulls = true
		}

		raw[newKey] = newVal
	}

	if hadNulls {
		sinkOrNop(r.Metrics).Incr("denullrule.has_nulls")
	}

	return nil
}

func deNull(v any) (any, bool) {
	switch s := v.(type) {
	case string:
		if strings.Contains(s, "\x00") {
			return utils.NewStringHelper().StripNulls(s), true
		}
	case []byte:
		if bytes.IndexByte(s, 0) >= 0 {
			return bytes.ReplaceAll(s, []byte{0}, nil), true
		}
	}

	return v, false
}

// DeNoneRule removes raw crash keys whose value is null.
type DeNoneRule struct {
	Always
	Metrics metrics.Sink
}

// Name implements Rule.
func (r *DeNoneRule) Name() string { return "DeNoneRule" }

// Action implements Rule.
func (r *DeNoneRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	hadNones := false

	for key, val := range raw {
		if val == nil {
			hadNones = true

			delete(raw, key)
		}
	}

	if hadNones {
		sinkOrNop(r.Metrics).Incr("denonerule.had_nones")
	}

	return nil
}

// ConvertModuleSignatureInfoRule re-encodes an object valued
// ModuleSignatureInfo annotation as a JSON string.
type ConvertModuleSignatureInfoRule struct{}

// Name implements Rule.
func (r *ConvertModuleSignatureInfoRule) Name() string { return "ConvertModuleSignatureInfoRule" }

// Predicate implements Rule.
func (r *ConvertModuleSignatureInfoRule) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	_, ok := tree.AsMap(raw["ModuleSignatureInfo"])
	return ok
}

// Action implements Rule.
func (r *ConvertModuleSignatureInfoRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	data, err := json.Marshal(raw["ModuleSignatureInfo"])
	if err != nil {
		return fmt.Errorf("failed to encode ModuleSignatureInfo: %w", err)
	}

	raw["ModuleSignatureInfo"] = string(data)

	return nil
}

// IdentifierRule copies the crash id into the processed crash.
type IdentifierRule struct{ Always }

// Name implements Rule.
func (r *IdentifierRule) Name() string { return "IdentifierRule" }

// Action implements Rule.
func (r *IdentifierRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	if id, ok := raw["uuid"]; ok {
		processed["crash_id"] = id
		processed["uuid"] = id
	}

	return nil
}

// CPUInfoRule extracts CPU details from the stackwalker output.
type CPUInfoRule struct{ Always }

// Name implements Rule.
func (r *CPUInfoRule) Name() string { return "CPUInfoRule" }

// Action implements Rule.
func (r *CPUInfoRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	// The architecture the product was built for.
	processed["cpu_arch"] = strings.TrimSpace(tree.String(processed, "json_dump.system_info.cpu_arch", ""))
	// The machine the product was running on.
	processed["cpu_info"] = strings.TrimSpace(tree.String(processed, "json_dump.system_info.cpu_info", ""))
	processed["cpu_count"] = tree.Int(processed, "json_dump.system_info.cpu_count", 0)

	return nil
}

// OSInfoRule extracts the operating system name and version.
type OSInfoRule struct{ Always }

// Name implements Rule.
func (r *OSInfoRule) Name() string { return "OSInfoRule" }

// Action implements Rule.
func (r *OSInfoRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["os_name"] = strings.TrimSpace(tree.String(processed, "json_dump.system_info.os", "Unknown"))
	processed["os_version"] = strings.TrimSpace(tree.String(processed, "json_dump.system_info.os_ver", ""))

	return nil
}
