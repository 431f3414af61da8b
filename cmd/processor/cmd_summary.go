package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"crashproc/internal/crashstorage"
	"crashproc/internal/formatter"
	"crashproc/internal/models"
)

func newSummaryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <crash-id|processed.json>",
		Short: "Render a processed crash as a markdown table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processed, err := loadProcessed(cmd, root, args[0])
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), formatter.Summary(processed))

			return nil
		},
	}
}

// loadProcessed reads target as a local file when one exists and from
// storage otherwise.
func loadProcessed(cmd *cobra.Command, root *rootOptions, target string) (models.ProcessedCrash, error) {
	data, err := os.ReadFile(target)
	if err == nil {
		return crashstorage.DecodeProcessed(data)
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read processed crash: %w", err)
	}

	a, err := newApp(cmd, root, false)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	b, err := a.storage(cmd.Context())
	if err != nil {
		return nil, err
	}

	return b.Store.GetProcessed(cmd.Context(), target)
}
