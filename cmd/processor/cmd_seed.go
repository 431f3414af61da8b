package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crashproc/internal/crashstorage"
)

type seedFlags struct {
	crashID string
	dumps   []string
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	flags := &seedFlags{}

	cmd := &cobra.Command{
		Use:   "seed <raw.json>",
		Short: "Store a raw crash and its dumps in the configured storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, root, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.crashID, "crash-id", "", "Crash id (defaults to the raw crash uuid)")
	f.StringArrayVar(&flags.dumps, "dump", nil, "Raw dump as name=path (repeatable)")

	return cmd
}

func runSeed(cmd *cobra.Command, root *rootOptions, flags *seedFlags, rawPath string) error {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw crash: %w", err)
	}

	raw, err := crashstorage.DecodeRawCrash(data)
	if err != nil {
		return err
	}

	crashID := flags.crashID
	if crashID == "" {
		crashID, _ = raw["uuid"].(string)
	}

	if err := crashstorage.ValidateCrashID(crashID); err != nil {
		return err
	}

	paths, err := parseDumpFlags(flags.dumps)
	if err != nil {
		return err
	}

	dumps := make(map[string][]byte, len(paths))
	for name, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read dump %s: %w", name, err)
		}

		dumps[name] = content
	}

	a, err := newApp(cmd, root, false)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.storage(cmd.Context())
	if err != nil {
		return err
	}

	if err := b.Store.SaveRawCrash(cmd.Context(), crashID, raw, dumps); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %s (%d dumps)\n", crashID, len(dumps))

	return nil
}
