package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"crashproc/internal/models"
)

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	return buf.Bytes()
}

func TestJavaProcessRule(t *testing.T) {
	trace := "Exception: some messge\n" +
		"\tat org.File.function(File.java:100)\n" +
		"\tCaused by: Exception: some other message\n" +
		"\t\tat org.File.function(File.java:100)"
	raw := models.RawCrash{"JavaStackTrace": trace}
	processed := models.ProcessedCrash{}
	meta := newTestMeta()

	run(t, &JavaProcessRule{}, raw, nil, processed, meta)

	want := models.ProcessedCrash{
		"java_stack_trace_raw": trace,
		"java_stack_trace":     "Exception\n\tat org.File.function(File.java:100)",
	}
	if diff := cmp.Diff(want, processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}

	if len(meta.Notes) != 0 {
		t.Errorf("notes = %v", meta.Notes)
	}
}

func TestJavaProcessRule_Malformed(t *testing.T) {
	raw := models.RawCrash{"JavaStackTrace": "junk\n\tat org.File.function\njunk"}
	processed := models.ProcessedCrash{}
	meta := newTestMeta()

	run(t, &JavaProcessRule{}, raw, nil, processed, meta)

	if processed["java_stack_trace_raw"] != raw["JavaStackTrace"] {
		t.Errorf("java_stack_trace_raw = %q", processed["java_stack_trace_raw"])
	}

	if processed["java_stack_trace"] != "malformed" {
		t.Errorf("java_stack_trace = %q", processed["java_stack_trace"])
	}

	if diff := cmp.Diff([]string{"JavaProcessRule: malformed java stack trace"}, meta.Notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}
}

func TestScrubJavaStackTrace(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "suppressed block and more marker",
			in:   "java.lang.IllegalStateException: secret\n\tat a.B.c(B.java:1)\n\t... 3 more\n\tSuppressed: x.Y: other\n\t\tat d.E.f(E.java:2)\n\tat g.H.i(H.java:3)",
			want: "java.lang.IllegalStateException\n\tat a.B.c(B.java:1)\n\t... 3 more\n\tat g.H.i(H.java:3)",
		},
		{name: "no frames", in: "java.lang.Error: boom", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScrubJavaStackTrace(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMozCrashReasonRule(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"MOZ_CRASH(OOM)", "MOZ_CRASH(OOM)"},
		{"MOZ_RELEASE_ASSERT(aLength <= kMax)", "MOZ_RELEASE_ASSERT(aLength <= kMax)"},
		{"byte index 21548 is not a char boundary", SanitizedCrashReason},
		{`Failed to load module "jar:file..."do not use eval with system privileges: jar:file...`, SanitizedCrashReason},
		{"MOZ_CRASH(/home/user/secret)", SanitizedCrashReason},
		{"MOZ_CRASH(" + strings.Repeat("a", 300) + ")", SanitizedCrashReason},
	}

	for _, tt := range tests {
		processed := models.ProcessedCrash{}
		run(t, &MozCrashReasonRule{}, models.RawCrash{"MozCrashReason": tt.reason}, nil, processed, newTestMeta())

		want := models.ProcessedCrash{"moz_crash_reason_raw": tt.reason, "moz_crash_reason": tt.want}
		if diff := cmp.Diff(want, processed); diff != "" {
			t.Errorf("%q: processed mismatch (-want +got):\n%s", tt.reason, diff)
		}
	}
}

func TestOutOfMemoryBinaryRule(t *testing.T) {
	report := []byte(`{"mysterious": ["awesome", "memory"]}`)
	dumps := models.MemoryDumps{MemoryReportDump: gzipped(t, report)}
	processed := models.ProcessedCrash{}
	meta := newTestMeta()

	run(t, &OutOfMemoryBinaryRule{MaxSizeUncompressed: 1024}, canonicalRawCrash(), dumps, processed, meta)

	want := map[string]any{"mysterious": []any{"awesome", "memory"}}
	if diff := cmp.Diff(want, processed["memory_report"]); diff != "" {
		t.Errorf("memory_report mismatch (-want +got):\n%s", diff)
	}

	if len(meta.Notes) != 0 {
		t.Errorf("notes = %v", meta.Notes)
	}
}

func TestOutOfMemoryBinaryRule_Errors(t *testing.T) {
	tooBig := []byte(`{"some": "notveryshortpieceofjson"}`)
	huge := bytes.Repeat([]byte("a"), 2000)

	tests := []struct {
		name    string
		data    []byte
		max     int64
		wantErr string
	}{
		{"too large", tooBig, 5, "Uncompressed memory info too large 35 (max: 5)"},
		{"count capped", huge, 10, "Uncompressed memory info too large at least 1000 (max: 10)"},
		{"not gzip", []byte("plain text"), 1024, "error in gzip for memory_report: "},
		{"bad json", []byte("{nope"), 1024, "error in json for memory_report: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if tt.name != "not gzip" {
				data = gzipped(t, data)
			}

			processed := models.ProcessedCrash{}
			meta := newTestMeta()
			run(t, &OutOfMemoryBinaryRule{MaxSizeUncompressed: tt.max}, models.RawCrash{}, models.MemoryDumps{MemoryReportDump: data}, processed, meta)

			if processed.Has("memory_report") {
				t.Error("memory_report should not be set")
			}

			got, _ := processed["memory_report_error"].(string)
			if !strings.HasPrefix(got, tt.wantErr) {
				t.Errorf("memory_report_error = %q, want prefix %q", got, tt.wantErr)
			}

			if len(meta.Notes) != 1 || meta.Notes[0] != got {
				t.Errorf("notes = %v", meta.Notes)
			}
		})
	}
}

func TestOutOfMemoryBinaryRule_NoDump(t *testing.T) {
	if run(t, &OutOfMemoryBinaryRule{}, canonicalRawCrash(), models.MemoryDumps{}, models.ProcessedCrash{}, newTestMeta()) {
		t.Error("rule ran without a memory report")
	}
}

type closeTracker struct {
	*bytes.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

type trackingDumps struct {
	data    []byte
	opened  []*closeTracker
	openErr error
}

func (d *trackingDumps) Names() []string { return []string{MemoryReportDump} }

func (d *trackingDumps) Open(string) (io.ReadCloser, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}

	c := &closeTracker{Reader: bytes.NewReader(d.data)}
	d.opened = append(d.opened, c)

	return c, nil
}

func TestOutOfMemoryBinaryRule_ClosesDump(t *testing.T) {
	for _, data := range [][]byte{gzipped(t, []byte(`{}`)), []byte("not gzip"), gzipped(t, []byte("{"))} {
		dumps := &trackingDumps{data: data}
		run(t, &OutOfMemoryBinaryRule{}, models.RawCrash{}, dumps, models.ProcessedCrash{}, newTestMeta())

		if len(dumps.opened) != 1 || !dumps.opened[0].closed {
			t.Errorf("dump not closed for %q", data)
		}
	}
}

func TestOutOfMemoryBinaryRule_OpenError(t *testing.T) {
	dumps := &trackingDumps{openErr: errors.New("gone")}
	processed := models.ProcessedCrash{}

	run(t, &OutOfMemoryBinaryRule{}, models.RawCrash{}, dumps, processed, newTestMeta())

	if got := processed["memory_report_error"]; got != "error in gzip for memory_report: gone" {
		t.Errorf("memory_report_error = %q", got)
	}
}

func TestJSONDumpRule(t *testing.T) {
	doc := map[string]any{"crash_info": map[string]any{"crashing_thread": float64(0)}}
	plain, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	for name, data := range map[string][]byte{"plain": plain, "gzipped": gzipped(t, plain)} {
		t.Run(name, func(t *testing.T) {
			processed := models.ProcessedCrash{}
			run(t, &JSONDumpRule{}, models.RawCrash{}, models.MemoryDumps{JSONDumpName: data}, processed, newTestMeta())

			if diff := cmp.Diff(doc, processed["json_dump"]); diff != "" {
				t.Errorf("json_dump mismatch (-want +got):\n%s", diff)
			}
		})
	}

	processed := models.ProcessedCrash{}
	meta := newTestMeta()
	run(t, &JSONDumpRule{}, models.RawCrash{}, models.MemoryDumps{JSONDumpName: []byte("[")}, processed, meta)

	if processed.Has("json_dump") || !processed.Has("json_dump_error") || len(meta.Notes) != 1 {
		t.Errorf("bad dump: processed = %v, notes = %v", processed, meta.Notes)
	}
}

func TestPHCRule(t *testing.T) {
	if (&PHCRule{}).Predicate(models.RawCrash{}, models.MemoryDumps{}, models.ProcessedCrash{}, newTestMeta()) {
		t.Error("Predicate() = true without PHCKind")
	}

	tests := []struct {
		value       any
		wantAddress any
		wantSize    any
	}{
		{nil, nil, nil},
		{"", nil, nil},
		{"foo", nil, nil},
		{"10", "0xa", int64(10)},
		{"100", "0x64", int64(100)},
	}

	for _, tt := range tests {
		raw := models.RawCrash{"PHCKind": "FreedPage"}
		if tt.value != nil {
			raw["PHCBaseAddress"] = tt.value
			raw["PHCUsableSize"] = tt.value
		}

		processed := models.ProcessedCrash{}
		run(t, &PHCRule{}, raw, nil, processed, newTestMeta())

		if got, ok := processed["phc_base_address"]; got != tt.wantAddress || ok != (tt.wantAddress != nil) {
			t.Errorf("%v: phc_base_address = %v", tt.value, got)
		}

		if got, ok := processed["phc_usable_size"]; got != tt.wantSize || ok != (tt.wantSize != nil) {
			t.Errorf("%v: phc_usable_size = %v", tt.value, got)
		}
	}
}

func TestPHCRule_CopiedValues(t *testing.T) {
	raw := models.RawCrash{
		"PHCKind":        "FreedPage",
		"PHCBaseAddress": "8",
		"PHCUsableSize":  "8",
		"PHCAllocStack":  "100,200",
		"PHCFreeStack":   "300,400",
	}
	processed := models.ProcessedCrash{}

	run(t, &PHCRule{}, raw, nil, processed, newTestMeta())

	want := models.ProcessedCrash{
		"phc_kind":         "FreedPage",
		"phc_base_address": "0x8",
		"phc_usable_size":  int64(8),
		"phc_alloc_stack":  "100,200",
		"phc_free_stack":   "300,400",
	}
	if diff := cmp.Diff(want, processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
}

type fakeResolver struct {
	version string
	err     error
	calls   []string
}

func (f *fakeResolver) LookupVersion(_ context.Context, product, channel string, buildID int64) (string, error) {
	f.calls = append(f.calls, product+"/"+channel)
	return f.version, f.err
}

func TestBetaVersionRule(t *testing.T) {
	const b0Note = `release channel is %s but no version data was found - added "b0" suffix to version number`

	tests := []struct {
		name      string
		channel   string
		version   string
		build     string
		resolver  *fakeResolver
		want      string
		wantNotes []string
		wantCalls int
	}{
		{"beta known", "beta", "3.0", "20001001101010", &fakeResolver{version: "3.0b1"}, "3.0b1", []string{}, 1},
		{"aurora known", "aurora", "3.0", "20001001101010", &fakeResolver{version: "3.0b1"}, "3.0b1", []string{}, 1},
		{"release ignored", "release", "2.0", "20000801101010", &fakeResolver{version: "x"}, "2.0", []string{}, 0},
		{"nightly ignored", "nightly", "5.0a1", "20000105101010", &fakeResolver{version: "x"}, "5.0a1", []string{}, 0},
		{"bad build id", "beta", "5.0", `2",381,,"`, &fakeResolver{version: "x"}, "5.0b0", []string{strings.Replace(b0Note, "%s", "beta", 1)}, 0},
		{"unknown build", "beta", "3.0.1", "220000101101011", &fakeResolver{}, "3.0.1b0", []string{strings.Replace(b0Note, "%s", "beta", 1)}, 1},
		{"lookup error", "Beta", "3.0", "20001001101010", &fakeResolver{err: errors.New("timeout")}, "3.0b0", []string{strings.Replace(b0Note, "%s", "beta", 1)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processed := models.ProcessedCrash{
				"product":         "Firefox",
				"release_channel": tt.channel,
				"version":         tt.version,
				"build":           tt.build,
			}
			meta := newTestMeta()

			run(t, &BetaVersionRule{Resolver: tt.resolver}, models.RawCrash{}, nil, processed, meta)

			if processed["version"] != tt.want {
				t.Errorf("version = %v, want %v", processed["version"], tt.want)
			}

			if diff := cmp.Diff(tt.wantNotes, meta.Notes); diff != "" {
				t.Errorf("notes mismatch (-want +got):\n%s", diff)
			}

			if len(tt.resolver.calls) != tt.wantCalls {
				t.Errorf("lookups = %d, want %d", len(tt.resolver.calls), tt.wantCalls)
			}
		})
	}
}
