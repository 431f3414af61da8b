package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crashproc/internal/config"
	"crashproc/internal/crashstorage"
	"crashproc/internal/errreport"
	"crashproc/internal/logger"
	"crashproc/internal/metrics"
	"crashproc/internal/models"
	"crashproc/internal/processor"
	"crashproc/internal/versionlookup"
	"crashproc/internal/worker"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	recorder *metrics.Recorder
	prom     *metrics.Prometheus
	sink     metrics.Sink
	proc     *processor.Processor
	backend  *crashstorage.Backend
}

// newApp loads the configuration and builds the processor. withPrometheus
// forces the Prometheus sink on even when metrics.enabled is false.
func newApp(cmd *cobra.Command, opts *rootOptions, withPrometheus bool) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:      cfg,
		log:      logger.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
		recorder: metrics.NewRecorder(),
	}

	sinks := metrics.Multi{a.recorder}
	if cfg.Metrics.Enabled || withPrometheus {
		a.prom = metrics.NewPrometheus(cfg.Metrics.Namespace)
		sinks = append(sinks, a.prom)
	}

	a.sink = sinks

	deps := processor.Deps{
		Metrics:  a.sink,
		Reporter: errreport.NewLogReporter(a.log),
	}

	versions, err := versionlookup.NewFromConfig(cfg.VersionLookup, a.sink, a.log)
	if err != nil {
		return nil, err
	}

	if versions != nil {
		deps.Versions = versions
	}

	executor := processor.NewExecutor(
		processor.DefaultRules(cfg.Processor, deps),
		processor.WithMetrics(a.sink),
		processor.WithReporter(deps.Reporter),
		processor.WithLogger(a.log),
	)
	a.proc = processor.NewProcessor(executor, a.log)

	a.log.Debug("configuration loaded", "config", cfg.String())

	return a, nil
}

// storage opens the configured backend on first use.
func (a *app) storage(ctx context.Context) (*crashstorage.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}

	b, err := crashstorage.Open(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a.backend = b

	return b, nil
}

func (a *app) worker(ctx context.Context) (*worker.Worker, error) {
	b, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}

	return worker.New(a.proc, b.Store, b.Destination,
		worker.WithConcurrency(a.cfg.Worker.Concurrency),
		worker.WithMetrics(a.sink),
		worker.WithLogger(a.log),
	), nil
}

func (a *app) Close() error {
	if a.backend == nil {
		return nil
	}

	return a.backend.Close()
}

// readIDs reads one crash id per line. Blank lines and lines starting with
// "#" are skipped.
func readIDs(r io.Reader) ([]string, error) {
	var ids []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ids = append(ids, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read crash ids: %w", err)
	}

	return ids, nil
}

// parseDumpFlags turns name=path pairs into file backed dumps.
func parseDumpFlags(values []string) (models.FileDumps, error) {
	dumps := make(models.FileDumps, len(values))

	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --dump %q, want name=path", v)
		}

		if err := crashstorage.ValidateDumpName(name); err != nil {
			return nil, err
		}

		dumps[name] = path
	}

	return dumps, nil
}

func printResult(w io.Writer, r worker.Result) {
	if !r.Succeeded() {
		fmt.Fprintf(w, "FAIL %s: %v\n", r.CrashID, r.Err)
		return
	}

	fmt.Fprintf(w, "ok   %s signature=%q notes=%d (%s)\n", r.CrashID, r.Signature, r.Notes, r.Duration.Round(time.Microsecond))
}
