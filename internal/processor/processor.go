// Package processor runs the crash processing pipeline.
package processor

import (
	"context"
	"fmt"
	"time"

	"crashproc/internal/logger"
	"crashproc/internal/models"
	"crashproc/pkg/metadata"
)

// Result is the outcome of processing one crash.
type Result struct {
	CrashID   string
	Processed models.ProcessedCrash
	Notes     []string
	Stats     RunStats
	Success   bool
}

// Processor validates a crash, runs the rule pipeline over it and
// finalizes the record.
type Processor struct {
	validator   *Validator
	transformer *Transformer
	executor    *Executor
	log         *logger.Logger
	now         func() time.Time
}

// NewProcessor creates a processor around executor.
func NewProcessor(executor *Executor, log *logger.Logger) *Processor {
	return &Processor{
		validator:   NewValidator(),
		transformer: NewTransformer(),
		executor:    executor,
		log:         log.Component("processor"),
		now:         time.Now,
	}
}

// Process runs the pipeline for one crash. The raw crash is modified in
// place by rewrite rules. Rule failures are reported through the notes;
// an error is returned only for invalid input or a cancelled context.
func (p *Processor) Process(ctx context.Context, crashID string, raw models.RawCrash, dumps models.RawDumps) (*Result, error) {
	// 1. Validate the input data
	if err := p.validator.Validate(crashID, raw); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if dumps == nil {
		dumps = models.MemoryDumps{}
	}

	started := p.now()
	meta := models.NewMeta(crashID, started)
	processed := models.ProcessedCrash{}

	// 2. Run the rules
	stats, err := p.executor.Run(ctx, raw, dumps, processed, meta)
	if err != nil {
		return nil, err
	}

	// 3. Finalize the record
	stamp := metadata.Stamp{
		Started:   started,
		Completed: p.now(),
		Success:   true,
		Notes:     meta.Notes,
	}

	final, err := p.transformer.Transform(processed, stamp)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	p.log.Debug("crash processed",
		"crash_id", crashID,
		"applied", stats.Applied,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"notes", len(meta.Notes),
	)

	return &Result{
		CrashID:   crashID,
		Processed: final,
		Notes:     meta.Notes,
		Stats:     stats,
		Success:   true,
	}, nil
}
