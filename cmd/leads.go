package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	leadsList       string
	leadsStatus     string
	leadsLimit      int
	leadsOffset     int
	leadsIcebreaker string
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Review leads and edit icebreakers",
}

var leadsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List leads, optionally filtered by list and status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status := model.LeadStatus(leadsStatus)
		if status != "" && !status.Valid() {
			return eris.Errorf("unknown status %q", leadsStatus)
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeads(ctx, store.LeadFilter{
			List:   leadsList,
			Status: status,
			Limit:  leadsLimit,
			Offset: leadsOffset,
		})
		if err != nil {
			return eris.Wrap(err, "list leads")
		}
		formatLeads(cmd.OutOrStdout(), leads)
		return nil
	},
}

var leadsEditCmd = &cobra.Command{
	Use:   "edit <lead-id>",
	Short: "Replace the icebreaker of a generated lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpdateIcebreaker(ctx, args[0], leadsIcebreaker); err != nil {
			if errors.Is(err, store.ErrTransitionRejected) {
				return eris.Wrap(err, "only generated leads can be edited")
			}
			return eris.Wrap(err, "edit lead")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
		return nil
	},
}

func init() {
	leadsLsCmd.Flags().StringVar(&leadsList, "list", "", "only leads of this list")
	leadsLsCmd.Flags().StringVar(&leadsStatus, "status", "", "only leads with this status")
	leadsLsCmd.Flags().IntVar(&leadsLimit, "limit", 50, "maximum leads to show (0 for all)")
	leadsLsCmd.Flags().IntVar(&leadsOffset, "offset", 0, "leads to skip")

	leadsEditCmd.Flags().StringVar(&leadsIcebreaker, "icebreaker", "", "new icebreaker text (required)")
	_ = leadsEditCmd.MarkFlagRequired("icebreaker")

	leadsCmd.AddCommand(leadsLsCmd, leadsEditCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeads writes one row per lead to out. Long text is cut to keep rows
// on one line.
func formatLeads(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tCOMPANY\tSTATUS\tICEBREAKER / ERROR")
	for _, l := range leads {
		detail := l.Icebreaker
		if l.Status == model.LeadStatusError {
			detail = l.ErrorMessage
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Email, l.CompanyName, l.Status, truncate(detail, 80))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
