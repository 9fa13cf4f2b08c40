package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every collection as one JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := setup()
			if err != nil {
				return err
			}
			defer repo.Close()

			docs, err := repo.ExportAll(context.Background())
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(docs)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace collections from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var docs map[string]json.RawMessage
			if err := json.Unmarshal(data, &docs); err != nil {
				return fmt.Errorf("invalid export document: %w", err)
			}

			repo, log, err := setup()
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.ImportAll(context.Background(), docs); err != nil {
				return err
			}
			log.Info().Int("collections", len(docs)).Str("file", args[0]).Msg("import complete")
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear data without --yes")
			}
			repo, log, err := setup()
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.ClearAll(context.Background()); err != nil {
				return err
			}
			log.Info().Msg("all collections cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all data")
	return cmd
}
