package errreport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"crashproc/internal/logger"
)

func TestFunc(t *testing.T) {
	var got []error

	r := Func(func(_ context.Context, err error, _ ...any) {
		got = append(got, err)
	})

	want := errors.New("Cough")
	r.Report(context.Background(), want, "rule", "BadRule")

	if len(got) != 1 || !errors.Is(got[0], want) {
		t.Errorf("got %v, want [%v]", got, want)
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer

	r := NewLogReporter(logger.New("info", "text", &buf))
	r.Report(context.Background(), errors.New("boom"), "rule", "PHCRule")

	out := buf.String()
	for _, want := range []string{"error=boom", "rule=PHCRule", "component=errreport"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}
