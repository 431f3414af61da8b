package processor

import (
	"time"

	"crashproc/internal/models"
	"crashproc/pkg/metadata"
	"crashproc/pkg/utils"
)

// Transformer turns the pipeline output into a storable record.
type Transformer struct{}

// NewTransformer creates a new transformer instance.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform strips NUL characters from every key and text value, however
// deeply nested, then writes the processing stamp and content hash.
func (t *Transformer) Transform(processed models.ProcessedCrash, stamp metadata.Stamp) (models.ProcessedCrash, error) {
	out := make(models.ProcessedCrash, len(processed)+5)
	for k, v := range processed {
		out[stripNulls(k)] = scrub(v)
	}

	notes := make([]string, len(stamp.Notes))
	for i, n := range stamp.Notes {
		notes[i] = stripNulls(n)
	}

	stamp.Notes = notes
	stamp.Apply(out)

	if err := metadata.Sign(out); err != nil {
		return nil, err
	}

	return out, nil
}

var strs = utils.NewStringHelper()

func stripNulls(s string) string {
	return strs.StripNulls(s)
}

// scrub returns a NUL free copy of v.
func scrub(v any) any {
	switch val := v.(type) {
	case string:
		return stripNulls(val)
	case []byte:
		return stripNulls(string(val))
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = stripNulls(s)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scrub(item)
		}

		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[stripNulls(k)] = scrub(item)
		}

		return out
	case models.ProcessedCrash:
		return scrub(map[string]any(val))
	case time.Time:
		return val.UTC()
	}

	return v
}
