package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/importer"
)

var (
	importList    string
	importCharset string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import leads from a CSV or XLSX file into a list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "import")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := importer.New(st, cfg.Import).ImportFile(ctx, args[0], importList, importCharset)
		if stats != nil {
			formatImportStats(cmd.OutOrStdout(), stats)
		}
		if err != nil {
			return eris.Wrap(err, "import")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importList, "list", "", "list name for the imported leads (required)")
	importCmd.Flags().StringVar(&importCharset, "charset", "", "source encoding of a CSV file, e.g. windows-1252 (default utf-8)")
	_ = importCmd.MarkFlagRequired("list")
	rootCmd.AddCommand(importCmd)
}

func formatImportStats(out io.Writer, s *importer.Stats) {
	_, _ = fmt.Fprintf(out, "list %q: %d rows, %d imported\n", s.List, s.Total, s.Imported)
	_, _ = fmt.Fprintf(out, "  skipped (no email): %d\n", s.Skipped)
	_, _ = fmt.Fprintf(out, "  opted out:          %d\n", s.OptedOut)
	_, _ = fmt.Fprintf(out, "  no website:         %d\n", s.NoWebsite)
	_, _ = fmt.Fprintf(out, "  duplicates:         %d\n", s.Duplicates)
}
