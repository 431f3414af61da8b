package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crashproc/internal/crashstorage"
	"crashproc/internal/formatter"
)

type processFlags struct {
	rawPath string
	crashID string
	dumps   []string
	summary bool
}

func newProcessCmd(root *rootOptions) *cobra.Command {
	flags := &processFlags{}

	cmd := &cobra.Command{
		Use:   "process [crash-id...]",
		Short: "Process crashes from storage, or a single raw crash file",
		Long: "Process loads each crash id from the configured storage, runs the\n" +
			"pipeline and saves the processed crash. With --raw it processes a\n" +
			"local raw crash file instead and prints the processed crash as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.rawPath != "" {
				return runProcessFile(cmd, root, flags)
			}

			if len(args) == 0 {
				return errors.New("at least one crash id or --raw is required")
			}

			return runProcessIDs(cmd, root, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.rawPath, "raw", "", "Raw crash JSON file to process without storage")
	f.StringVar(&flags.crashID, "crash-id", "", "Crash id for --raw (defaults to the raw crash uuid)")
	f.StringArrayVar(&flags.dumps, "dump", nil, "Raw dump for --raw as name=path (repeatable)")
	f.BoolVar(&flags.summary, "summary", false, "Print a markdown summary instead of JSON for --raw")

	return cmd
}

func runProcessIDs(cmd *cobra.Command, root *rootOptions, ids []string) error {
	a, err := newApp(cmd, root, false)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.worker(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0

	for _, id := range ids {
		r := w.ProcessOne(cmd.Context(), id)
		printResult(out, r)

		if !r.Succeeded() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d crashes failed", failed, len(ids))
	}

	return nil
}

func runProcessFile(cmd *cobra.Command, root *rootOptions, flags *processFlags) error {
	a, err := newApp(cmd, root, false)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(flags.rawPath)
	if err != nil {
		return fmt.Errorf("read raw crash: %w", err)
	}

	raw, err := crashstorage.DecodeRawCrash(data)
	if err != nil {
		return err
	}

	dumps, err := parseDumpFlags(flags.dumps)
	if err != nil {
		return err
	}

	crashID := flags.crashID
	if crashID == "" {
		crashID, _ = raw["uuid"].(string)
	}

	res, err := a.proc.Process(cmd.Context(), crashID, raw, dumps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if flags.summary {
		fmt.Fprint(out, formatter.Summary(res.Processed))
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(res.Processed)
}
