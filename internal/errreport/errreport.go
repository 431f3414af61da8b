// Package errreport forwards processing failures to an error tracking
// collaborator.
package errreport

import (
	"context"

	"crashproc/internal/logger"
)

// Reporter receives errors that were recovered during processing.
// Implementations must not block and must be safe for concurrent use.
type Reporter interface {
	Report(ctx context.Context, err error, fields ...any)
}

// Func adapts a plain function to Reporter.
type Func func(ctx context.Context, err error, fields ...any)

// Report implements Reporter.
func (f Func) Report(ctx context.Context, err error, fields ...any) {
	f(ctx, err, fields...)
}

// Nop drops every report.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, error, ...any) {}

// LogReporter writes reports to a logger at error level.
type LogReporter struct {
	log *logger.Logger
}

// NewLogReporter creates a reporter backed by log.
func NewLogReporter(log *logger.Logger) *LogReporter {
	return &LogReporter{log: log.Component("errreport")}
}

// Report implements Reporter.
func (r *LogReporter) Report(_ context.Context, err error, fields ...any) {
	args := append([]any{"error", err}, fields...)
	r.log.Error("processing error captured", args...)
}
