package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crashproc/internal/errreport"
	"crashproc/internal/logger"
	"crashproc/internal/metrics"
	"crashproc/internal/models"
	"crashproc/internal/rules"
)

// Executor runs an ordered list of rules over one crash. A failing rule
// is recorded and skipped; it never stops the rules after it.
type Executor struct {
	rules    []rules.Rule
	metrics  metrics.Sink
	reporter errreport.Reporter
	log      *logger.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics sets the sink that receives rule timings.
func WithMetrics(s metrics.Sink) Option {
	return func(e *Executor) {
		if s != nil {
			e.metrics = s
		}
	}
}

// WithReporter sets where rule failures are reported.
func WithReporter(r errreport.Reporter) Option {
	return func(e *Executor) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) {
		e.log = l.Component("executor")
	}
}

// NewExecutor creates an executor for rs. The list is copied.
func NewExecutor(rs []rules.Rule, opts ...Option) *Executor {
	e := &Executor{
		rules:    append([]rules.Rule(nil), rs...),
		metrics:  metrics.Nop{},
		reporter: errreport.Nop{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Rules returns the rules in execution order.
func (e *Executor) Rules() []rules.Rule {
	return append([]rules.Rule(nil), e.rules...)
}

// RunStats summarizes one run.
type RunStats struct {
	Applied int
	Skipped int
	Failed  int
}

// Run applies every rule in order. It returns early only when ctx is done.
func (e *Executor) Run(ctx context.Context, raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) (RunStats, error) {
	var stats RunStats

	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("pipeline interrupted before %s: %w", rule.Name(), err)
		}

		start := time.Now()
		ran, err := e.apply(ctx, rule, raw, dumps, processed, meta)
		e.metrics.Timing("rule."+rule.Name(), time.Since(start))

		switch {
		case err != nil:
			stats.Failed++
			e.fail(ctx, rule, meta, err)
		case ran:
			stats.Applied++
		default:
			stats.Skipped++
		}
	}

	return stats, nil
}

// apply runs one rule, turning a panic into an error.
func (e *Executor) apply(ctx context.Context, rule rules.Rule, raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) (ran bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ran = true
			err = panicError(r)
		}
	}()

	return rules.Act(ctx, rule, raw, dumps, processed, meta)
}

func (e *Executor) fail(ctx context.Context, rule rules.Rule, meta *models.Meta, err error) {
	meta.AddNotef("%s: Rule failed: %s", rule.Name(), err)
	e.metrics.Incr("rule_failed." + rule.Name())
	e.reporter.Report(ctx, err, "rule", rule.Name(), "crash_id", meta.CrashID)
	e.log.Warn("rule failed",
		"rule", rule.Name(),
		"crash_id", meta.CrashID,
		"error", err,
	)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}

	return errors.New(fmt.Sprint(r))
}
