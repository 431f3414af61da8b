package rules

import (
	"context"
	"fmt"

	"crashproc/internal/models"
	"crashproc/internal/tree"
)

// PHCRule copies the probabilistic heap checker annotations.
type PHCRule struct{}

// Name implements Rule.
func (r *PHCRule) Name() string { return "PHCRule" }

// Predicate implements Rule.
func (r *PHCRule) Predicate(raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) bool {
	return raw.Has("PHCKind")
}

// Action implements Rule.
func (r *PHCRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed["phc_kind"] = raw["PHCKind"]

	if n, ok := phcInt(raw, "PHCBaseAddress"); ok {
		processed["phc_base_address"] = fmt.Sprintf("0x%x", n)
	}

	if n, ok := phcInt(raw, "PHCUsableSize"); ok {
		processed["phc_usable_size"] = n
	}

	for key, dest := range map[string]string{
		"PHCAllocStack": "phc_alloc_stack",
		"PHCFreeStack":  "phc_free_stack",
	} {
		if v, ok := raw[key]; ok {
			processed[dest] = v
		}
	}

	return nil
}

func phcInt(raw models.RawCrash, key string) (int64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}

	if s, isString := v.(string); isString && s == "" {
		return 0, false
	}

	return tree.AsInt(v)
}
