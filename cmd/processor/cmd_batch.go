package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

type batchFlags struct {
	idsFile     string
	concurrency int
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "batch [crash-id...]",
		Short: "Process many crashes concurrently",
		Long: "Batch processes the given crash ids, plus those listed in --ids-file\n" +
			"(one per line, \"-\" for stdin), with worker.concurrency workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, root, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.idsFile, "ids-file", "", "File with one crash id per line, or - for stdin")
	f.IntVar(&flags.concurrency, "concurrency", 0, "Override worker.concurrency")

	return cmd
}

func runBatch(cmd *cobra.Command, root *rootOptions, flags *batchFlags, args []string) error {
	ids := append([]string(nil), args...)

	if flags.idsFile != "" {
		more, err := readIDsFile(cmd.InOrStdin(), flags.idsFile)
		if err != nil {
			return err
		}

		ids = append(ids, more...)
	}

	if len(ids) == 0 {
		return fmt.Errorf("no crash ids given")
	}

	a, err := newApp(cmd, root, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.concurrency > 0 {
		a.cfg.Worker.Concurrency = flags.concurrency
	}

	w, err := a.worker(cmd.Context())
	if err != nil {
		return err
	}

	summary := w.Run(cmd.Context(), ids)

	out := cmd.OutOrStdout()
	for _, r := range summary.Results {
		printResult(out, r)
	}

	fmt.Fprintf(out, "\n%d processed, %d failed\n", summary.Succeeded, summary.Failed)
	printRuleFailures(out, a.recorder.Counters())

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d crashes failed", summary.Failed, len(ids))
	}

	return nil
}

func readIDsFile(stdin io.Reader, path string) ([]string, error) {
	if path == "-" {
		return readIDs(stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file: %w", err)
	}
	defer f.Close()

	return readIDs(f)
}

// printRuleFailures lists the rules that failed at least once.
func printRuleFailures(w io.Writer, counters map[string]int) {
	const prefix = "rule_failed."

	var names []string
	for name := range counters {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return
	}

	sort.Strings(names)

	fmt.Fprintln(w, "rule failures:")

	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", strings.TrimPrefix(name, prefix), counters[name])
	}
}
