// Package worker processes batches of crashes concurrently.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"crashproc/internal/crashstorage"
	"crashproc/internal/logger"
	"crashproc/internal/metrics"
	"crashproc/internal/models"
	"crashproc/internal/processor"
)

// Processor runs the rule pipeline for one crash.
type Processor interface {
	Process(ctx context.Context, crashID string, raw models.RawCrash, dumps models.RawDumps) (*processor.Result, error)
}

// Result is the outcome for one crash id.
type Result struct {
	CrashID   string
	Signature string
	Notes     int
	Duration  time.Duration
	Err       error
}

// Succeeded reports whether the crash was processed and saved.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Summary aggregates a batch. Results are in input order.
type Summary struct {
	Results   []Result
	Succeeded int
	Failed    int
}

// Worker loads crashes from a source, processes them and saves the output.
type Worker struct {
	proc        Processor
	source      crashstorage.Source
	dest        crashstorage.Destination
	concurrency int
	metrics     metrics.Sink
	log         *logger.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithConcurrency bounds the number of crashes processed at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option {
	return func(w *Worker) {
		if s != nil {
			w.metrics = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(w *Worker) { w.log = l.Component("worker") }
}

// New creates a worker.
func New(proc Processor, source crashstorage.Source, dest crashstorage.Destination, opts ...Option) *Worker {
	w := &Worker{
		proc:        proc,
		source:      source,
		dest:        dest,
		concurrency: 1,
		metrics:     metrics.Nop{},
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run processes every id. A failure affects only its own id; Run returns
// once all ids are done or ctx is cancelled.
func (w *Worker) Run(ctx context.Context, ids []string) Summary {
	results := make([]Result, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			results[i] = w.ProcessOne(gCtx, id)
			return nil
		})
	}

	_ = g.Wait() // errors captured in Result

	summary := Summary{Results: results}
	for _, r := range results {
		if r.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	w.log.Info("batch finished",
		"total", len(ids),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)

	return summary
}

// ProcessOne loads, processes and saves a single crash. Every call works
// on its own raw crash, dumps and processed crash.
func (w *Worker) ProcessOne(ctx context.Context, crashID string) Result {
	started := time.Now()
	w.log.Debug("processing crash", "crash_id", crashID)

	res, err := w.processOne(ctx, crashID)
	res.CrashID = crashID
	res.Duration = time.Since(started)
	res.Err = err

	w.metrics.Timing("worker.crash", res.Duration)

	if err != nil {
		w.metrics.Incr("worker.failed")
		w.log.Error("crash failed",
			"crash_id", crashID,
			"duration", res.Duration,
			"error", err,
		)

		return res
	}

	w.metrics.Incr("worker.processed")
	w.log.Info("crash processed",
		"crash_id", crashID,
		"signature", res.Signature,
		"notes", res.Notes,
		"duration", res.Duration,
	)

	return res
}

func (w *Worker) processOne(ctx context.Context, crashID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	raw, err := w.source.GetRawCrash(ctx, crashID)
	if err != nil {
		return Result{}, fmt.Errorf("load raw crash: %w", err)
	}

	dumps, err := w.source.GetDumps(ctx, crashID)
	if err != nil {
		return Result{}, fmt.Errorf("load dumps: %w", err)
	}

	out, err := w.proc.Process(ctx, crashID, raw, dumps)
	if err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	if err := w.dest.SaveProcessed(ctx, crashID, out.Processed); err != nil {
		return Result{}, fmt.Errorf("save processed crash: %w", err)
	}

	signature, _ := out.Processed["signature"].(string)

	return Result{Signature: signature, Notes: len(out.Notes)}, nil
}
