package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Browse and delete lead lists",
}

var listsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Show every list with per-status lead counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lists, err := st.ListSummaries(ctx)
		if err != nil {
			return eris.Wrap(err, "list summaries")
		}
		formatListSummaries(cmd.OutOrStdout(), lists)
		return nil
	},
}

var listsRmCmd = &cobra.Command{
	Use:   "rm <list>",
	Short: "Delete a list and all of its leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteList(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "delete list")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d leads from %q\n", n, args[0])
		return nil
	},
}

func init() {
	listsCmd.AddCommand(listsLsCmd, listsRmCmd)
	rootCmd.AddCommand(listsCmd)
}

// formatListSummaries writes one row per list to out.
func formatListSummaries(out io.Writer, lists []model.ListSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LIST\tTOTAL\tPENDING\tIN PROGRESS\tGENERATED\tERROR\tEXPORTED\tCREATED")
	for _, l := range lists {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			l.Name,
			l.Total,
			l.Count(model.LeadStatusPending),
			l.Count(model.LeadStatusInProgress)+l.Count(model.LeadStatusScraped),
			l.Count(model.LeadStatusGenerated),
			l.Count(model.LeadStatusError),
			l.Count(model.LeadStatusExported),
			l.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
