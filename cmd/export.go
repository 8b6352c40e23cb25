package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	exportList         string
	exportCampaignID   string
	exportCampaignName string
	exportOut          string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export generated leads",
}

var exportLemlistCmd = &cobra.Command{
	Use:   "lemlist",
	Short: "Push the generated leads of a list to a lemlist campaign",
	Long: "Creates the campaign unless --campaign-id is given, then creates each " +
		"lead, updating it instead when lemlist reports it already exists.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Exporter.ExportList(ctx, exportList, pipeline.CampaignRef{
			ID:   exportCampaignID,
			Name: exportCampaignName,
		})
		if report != nil {
			formatExportReport(cmd.OutOrStdout(), report)
		}
		if err != nil {
			return eris.Wrap(err, "export lemlist")
		}
		return nil
	},
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write the generated and exported leads of a list as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := finishedLeads(ctx, st, exportList)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := writeLeadsCSV(out, leads); err != nil {
			return err
		}
		if exportOut != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d leads to %s\n", len(leads), exportOut)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{exportLemlistCmd, exportCSVCmd} {
		c.Flags().StringVar(&exportList, "list", "", "list to export (required)")
		_ = c.MarkFlagRequired("list")
	}
	exportLemlistCmd.Flags().StringVar(&exportCampaignID, "campaign-id", "", "existing lemlist campaign id")
	exportLemlistCmd.Flags().StringVar(&exportCampaignName, "campaign-name", "", "name of the campaign to create (default: list name)")
	exportCSVCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")

	exportCmd.AddCommand(exportLemlistCmd, exportCSVCmd)
	rootCmd.AddCommand(exportCmd)
}

// finishedLeads returns the generated then exported leads of list.
func finishedLeads(ctx context.Context, st store.Store, list string) ([]model.Lead, error) {
	var out []model.Lead
	for _, status := range []model.LeadStatus{model.LeadStatusGenerated, model.LeadStatusExported} {
		leads, err := st.ListLeads(ctx, store.LeadFilter{List: list, Status: status})
		if err != nil {
			return nil, eris.Wrapf(err, "list %s leads", status)
		}
		out = append(out, leads...)
	}
	return out, nil
}

var leadCSVHeader = []string{
	"email", "first_name", "last_name", "company_name", "website", "linkedin", "icebreaker", "status",
}

func writeLeadsCSV(out io.Writer, leads []model.Lead) error {
	w := csv.NewWriter(out)
	if err := w.Write(leadCSVHeader); err != nil {
		return eris.Wrap(err, "write csv header")
	}
	for _, l := range leads {
		if err := w.Write([]string{
			l.Email, l.FirstName, l.LastName, l.CompanyName, l.Website, l.LinkedIn, l.Icebreaker, string(l.Status),
		}); err != nil {
			return eris.Wrapf(err, "write csv row %s", l.Email)
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "flush csv")
}

func formatExportReport(out io.Writer, r *model.ExportReport) {
	_, _ = fmt.Fprintf(out, "campaign %s: %d leads, %d exported, %d failed\n", r.CampaignID, r.Total, r.Success, r.Failed)
	for _, msg := range r.Errors {
		_, _ = fmt.Fprintf(out, "  error: %s\n", msg)
	}
}
