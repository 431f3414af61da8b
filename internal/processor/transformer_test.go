package processor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"crashproc/internal/models"
	"crashproc/pkg/metadata"
)

func TestTransformer_StripsNulls(t *testing.T) {
	processed := models.ProcessedCrash{
		"ke\x00y": "va\x00lue",
		"bytes":   []byte("a\x00b"),
		"list":    []string{"x\x00", "y"},
		"int":     int64(7),
		"json_dump": map[string]any{
			"nes\x00ted": []any{"\x00deep", map[string]any{"k": "v\x00"}},
		},
	}

	stamp := metadata.Stamp{
		Started:   testNow,
		Completed: testNow.Add(time.Second),
		Success:   true,
		Notes:     []string{"note\x00one"},
	}

	got, err := NewTransformer().Transform(processed, stamp)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	delete(got, metadata.KeyHash)

	want := models.ProcessedCrash{
		"key":   "value",
		"bytes": "ab",
		"list":  []string{"x", "y"},
		"int":   int64(7),
		"json_dump": map[string]any{
			"nested": []any{"deep", map[string]any{"k": "v"}},
		},
		metadata.KeyStarted:   testNow,
		metadata.KeyCompleted: testNow.Add(time.Second),
		metadata.KeySuccess:   true,
		metadata.KeyNotes:     "noteone",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Transform mismatch (-want +got):\n%s", diff)
	}

	if processed["ke\x00y"] != "va\x00lue" {
		t.Error("Transform must not modify its input")
	}
}
