package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"crashproc/internal/errreport"
	"crashproc/internal/metrics"
	"crashproc/internal/models"
	"crashproc/internal/rules"
)

type setRule struct {
	rules.Always
	name, key string
	value     any
}

func (r *setRule) Name() string { return r.name }

func (r *setRule) Action(_ context.Context, _ models.RawCrash, _ models.RawDumps, processed models.ProcessedCrash, _ *models.Meta) error {
	processed[r.key] = r.value
	return nil
}

type errRule struct{ rules.Always }

func (errRule) Name() string { return "ErrRule" }

func (errRule) Action(context.Context, models.RawCrash, models.RawDumps, models.ProcessedCrash, *models.Meta) error {
	return errors.New("bad input")
}

type panicRule struct{ rules.Always }

func (panicRule) Name() string { return "PanicRule" }

func (panicRule) Action(_ context.Context, raw models.RawCrash, _ models.RawDumps, _ models.ProcessedCrash, _ *models.Meta) error {
	_ = raw["missing"].(string)
	return nil
}

type neverRule struct{}

func (neverRule) Name() string { return "NeverRule" }

func (neverRule) Predicate(models.RawCrash, models.RawDumps, models.ProcessedCrash, *models.Meta) bool {
	return false
}

func (neverRule) Action(context.Context, models.RawCrash, models.RawDumps, models.ProcessedCrash, *models.Meta) error {
	panic("unreachable")
}

type reportLog struct {
	mu     sync.Mutex
	errors []string
	fields [][]any
}

func (l *reportLog) Report(_ context.Context, err error, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors = append(l.errors, err.Error())
	l.fields = append(l.fields, fields)
}

func TestExecutor_FailingRuleDoesNotStopPipeline(t *testing.T) {
	rec := metrics.NewRecorder()
	reports := &reportLog{}

	e := NewExecutor([]rules.Rule{
		&setRule{name: "First", key: "first", value: 1},
		errRule{},
		neverRule{},
		&setRule{name: "Last", key: "last", value: 2},
	}, WithMetrics(rec), WithReporter(reports))

	processed := models.ProcessedCrash{}
	meta := models.NewMeta("crash-1", testNow)

	stats, err := e.Run(context.Background(), models.RawCrash{}, models.MemoryDumps{}, processed, meta)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff(models.ProcessedCrash{"first": 1, "last": 2}, processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"ErrRule: Rule failed: bad input"}, meta.Notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(RunStats{Applied: 2, Skipped: 1, Failed: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"bad input"}, reports.errors); diff != "" {
		t.Errorf("reports mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]any{"rule", "ErrRule", "crash_id", "crash-1"}, reports.fields[0]); diff != "" {
		t.Errorf("report fields mismatch (-want +got):\n%s", diff)
	}

	if got := rec.Count("rule_failed.ErrRule"); got != 1 {
		t.Errorf("rule_failed.ErrRule = %d, want 1", got)
	}

	for _, name := range []string{"First", "ErrRule", "NeverRule", "Last"} {
		if got := rec.Timings("rule." + name); got != 1 {
			t.Errorf("timings for %s = %d, want 1", name, got)
		}
	}
}

func TestExecutor_RecoversPanics(t *testing.T) {
	reports := &reportLog{}
	e := NewExecutor([]rules.Rule{
		panicRule{},
		&setRule{name: "After", key: "after", value: true},
	}, WithReporter(reports))

	processed := models.ProcessedCrash{}
	meta := models.NewMeta("crash-2", testNow)

	stats, err := e.Run(context.Background(), models.RawCrash{}, models.MemoryDumps{}, processed, meta)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if processed["after"] != true {
		t.Error("rule after the panic did not run")
	}

	if len(meta.Notes) != 1 || meta.Notes[0][:len("PanicRule: Rule failed: ")] != "PanicRule: Rule failed: " {
		t.Errorf("notes = %v", meta.Notes)
	}

	if stats.Failed != 1 || len(reports.errors) != 1 {
		t.Errorf("stats = %+v, reports = %v", stats, reports.errors)
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExecutor([]rules.Rule{&setRule{name: "First", key: "first", value: 1}})
	processed := models.ProcessedCrash{}

	_, err := e.Run(ctx, models.RawCrash{}, models.MemoryDumps{}, processed, models.NewMeta("c", testNow))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	if len(processed) != 0 {
		t.Errorf("processed = %v, want empty", processed)
	}
}

func TestExecutor_Rules(t *testing.T) {
	list := []rules.Rule{errRule{}}
	e := NewExecutor(list)
	list[0] = neverRule{}

	if got := e.Rules()[0].Name(); got != "ErrRule" {
		t.Errorf("Rules()[0] = %s, executor must copy its rule list", got)
	}
}

var _ errreport.Reporter = (*reportLog)(nil)
