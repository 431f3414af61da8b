package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeMetricsCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Process crash ids read from stdin while serving Prometheus metrics",
		Long: "serve-metrics exposes /metrics on metrics.listen_addr and processes\n" +
			"every crash id read from stdin. It keeps serving after stdin closes\n" +
			"until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeMetrics(cmd, root, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Override metrics.listen_addr")

	return cmd
}

func runServeMetrics(cmd *cobra.Command, root *rootOptions, listen string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, root, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if listen == "" {
		listen = a.cfg.Metrics.ListenAddr
	}

	w, err := a.worker(ctx)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("serving metrics", "addr", listen)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	// Stdin is read outside the group so a blocked read cannot hold up
	// shutdown.
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		for scanner.Scan() && gCtx.Err() == nil {
			id := strings.TrimSpace(scanner.Text())
			if id == "" || strings.HasPrefix(id, "#") {
				continue
			}

			printResult(out, w.ProcessOne(gCtx, id))
		}

		a.log.Info("input closed, still serving metrics")
	}()

	return g.Wait()
}
