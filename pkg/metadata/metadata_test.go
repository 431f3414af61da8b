package metadata

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStampApply(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := map[string]any{}

	Stamp{
		Started:   started,
		Completed: started.Add(time.Second),
		Success:   true,
		Notes:     []string{"one", "two"},
	}.Apply(doc)

	want := map[string]any{
		KeyStarted:   started,
		KeyCompleted: started.Add(time.Second),
		KeySuccess:   true,
		KeyNotes:     "one; two",
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("stamp mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"one", "two"}, SplitNotes(doc[KeyNotes].(string))); diff != "" {
		t.Errorf("SplitNotes mismatch (-want +got):\n%s", diff)
	}

	if SplitNotes("") != nil {
		t.Error("SplitNotes(\"\") should be nil")
	}
}

func TestSignVerify(t *testing.T) {
	doc := map[string]any{"signature": "Foo", "uptime": int64(12)}

	if _, err := Verify(doc); !errors.Is(err, ErrNoHashFound) {
		t.Fatalf("Verify() unsigned error = %v, want ErrNoHashFound", err)
	}

	if err := Sign(doc); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	ok, err := Verify(doc)
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v", ok, err)
	}

	// Hashes survive a JSON round trip.
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatal(err)
	}

	if ok, err := Verify(loaded); err != nil || !ok {
		t.Fatalf("Verify() after round trip = %v, %v", ok, err)
	}

	loaded["signature"] = "Bar"
	if _, err := Verify(loaded); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("Verify() tampered error = %v, want ErrHashMismatch", err)
	}
}
