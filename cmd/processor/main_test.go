package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"crashproc/internal/crashstorage"
	"crashproc/internal/models"
)

const (
	firstCrash  = "00000000-0000-0000-0000-000002140504"
	secondCrash = "00000000-0000-0000-0000-000002140505"
)

func writeConfig(t *testing.T, root string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "logging:\n  level: error\nstorage:\n  backend: fs\n  fs:\n    root: " + root + "\n"

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func seed(t *testing.T, root string, ids ...string) *crashstorage.FSStore {
	t.Helper()

	store, err := crashstorage.NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range ids {
		raw := models.RawCrash{
			"uuid":                id,
			"ProductName":         "Firefox",
			"Version":             "12.0",
			"submitted_timestamp": "2012-05-08T23:26:33.454482+00:00",
			"CrashTime":           "1336519554",
		}

		if err := store.SaveRawCrash(context.Background(), id, raw, nil); err != nil {
			t.Fatal(err)
		}
	}

	return store
}

func TestBatchCommand(t *testing.T) {
	root := t.TempDir()
	store := seed(t, root, firstCrash, secondCrash)
	cfg := writeConfig(t, root)

	out, err := execute(t, firstCrash+"\n# comment\n\n"+secondCrash+"\n", "--config", cfg, "batch", "--ids-file", "-")
	if err != nil {
		t.Fatalf("batch error = %v\n%s", err, out)
	}

	if !strings.Contains(out, "2 processed, 0 failed") {
		t.Errorf("output = %s", out)
	}

	for _, id := range []string{firstCrash, secondCrash} {
		processed, err := store.GetProcessed(context.Background(), id)
		if err != nil {
			t.Fatalf("GetProcessed(%s) error = %v", id, err)
		}

		if processed["product"] != "Firefox" {
			t.Errorf("%s product = %v", id, processed["product"])
		}
	}
}

func TestBatchCommand_ReportsFailures(t *testing.T) {
	root := t.TempDir()
	seed(t, root, firstCrash)

	out, err := execute(t, "", "--config", writeConfig(t, root), "batch", firstCrash, secondCrash)
	if err == nil {
		t.Fatal("batch error = nil, want failure for the missing crash")
	}

	if !strings.Contains(out, "FAIL "+secondCrash) || !strings.Contains(out, "1 processed, 1 failed") {
		t.Errorf("output = %s", out)
	}
}

func TestProcessCommand_RawFile(t *testing.T) {
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "raw.json")
	raw := `{"uuid": "` + firstCrash + `", "ProductName": "Firefox", "Comments": "hi", "Unset": null}`
	if err := os.WriteFile(rawPath, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	dumpPath := filepath.Join(dir, "dump.json")
	dump := `{"crash_info": {"crashing_thread": 0}, "threads": [{"frames": [{"function": "main"}]}]}`
	if err := os.WriteFile(dumpPath, []byte(dump), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "--config", writeConfig(t, dir), "process", "--raw", rawPath, "--dump", "json_dump="+dumpPath)
	if err != nil {
		t.Fatalf("process error = %v", err)
	}

	var processed map[string]any
	if err := json.Unmarshal([]byte(out), &processed); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}

	got := map[string]any{
		"uuid":          processed["uuid"],
		"product":       processed["product"],
		"user_comments": processed["user_comments"],
		"signature":     processed["signature"],
	}
	want := map[string]any{
		"uuid":          firstCrash,
		"product":       "Firefox",
		"user_comments": "hi",
		"signature":     "main",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryCommand_File(t *testing.T) {
	root := t.TempDir()
	store := seed(t, root, firstCrash)
	cfg := writeConfig(t, root)

	if _, err := execute(t, "", "--config", cfg, "process", firstCrash); err != nil {
		t.Fatalf("process error = %v", err)
	}

	out, err := execute(t, "", "--config", cfg, "summary", store.ProcessedPath(firstCrash))
	if err != nil {
		t.Fatalf("summary error = %v", err)
	}

	for _, want := range []string{"# Crash " + firstCrash, "Firefox", "verified"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	// The same record read back through storage by id.
	byID, err := execute(t, "", "--config", cfg, "summary", firstCrash)
	if err != nil {
		t.Fatalf("summary by id error = %v", err)
	}

	if byID != out {
		t.Errorf("summary by id differs:\n%s\nvs\n%s", byID, out)
	}
}

func TestSeedCommand(t *testing.T) {
	root := t.TempDir()
	cfg := writeConfig(t, root)

	rawPath := filepath.Join(t.TempDir(), "raw.json")
	if err := os.WriteFile(rawPath, []byte(`{"uuid": "`+firstCrash+`", "ProductName": "Firefox"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	dumpPath := filepath.Join(t.TempDir(), "report.gz")
	if err := os.WriteFile(dumpPath, []byte("not really gzip"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "--config", cfg, "seed", rawPath, "--dump", "memory_report="+dumpPath)
	if err != nil {
		t.Fatalf("seed error = %v", err)
	}

	if !strings.Contains(out, "seeded "+firstCrash+" (1 dumps)") {
		t.Errorf("output = %s", out)
	}

	out, err = execute(t, "", "--config", cfg, "process", firstCrash)
	if err != nil {
		t.Fatalf("process error = %v\n%s", err, out)
	}

	store, err := crashstorage.NewFSStore(root)
	if err != nil {
		t.Fatal(err)
	}

	processed, err := store.GetProcessed(context.Background(), firstCrash)
	if err != nil {
		t.Fatalf("GetProcessed() error = %v", err)
	}

	// The broken memory report is recorded, not fatal.
	if _, ok := processed["memory_report_error"]; !ok {
		t.Errorf("memory_report_error missing: %v", processed)
	}
}

func TestReadIDs(t *testing.T) {
	ids, err := readIDs(strings.NewReader("a\n  b  \n\n# skip\nc"))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("readIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDumpFlags(t *testing.T) {
	dumps, err := parseDumpFlags([]string{"json_dump=/tmp/a.json", "memory_report=/tmp/m.gz"})
	if err != nil {
		t.Fatalf("parseDumpFlags() error = %v", err)
	}

	if diff := cmp.Diff(models.FileDumps{"json_dump": "/tmp/a.json", "memory_report": "/tmp/m.gz"}, dumps); diff != "" {
		t.Errorf("dumps mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"json_dump", "=x", "../x=y"} {
		if _, err := parseDumpFlags([]string{bad}); err == nil {
			t.Errorf("parseDumpFlags(%q) error = nil", bad)
		}
	}
}
