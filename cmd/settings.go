package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	settingsPrompt string
	settingsModel  string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the active prompt and model",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := st.GetSettings(ctx)
		if err != nil {
			return eris.Wrap(err, "load settings")
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "model:         %s\n", s.ModelID)
		_, _ = fmt.Fprintf(out, "last template: %s\n", s.LastTemplateID)
		_, _ = fmt.Fprintf(out, "prompt:\n%s\n", s.Prompt)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the active prompt and/or model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var prompt, modelID *string
		if cmd.Flags().Changed("prompt") {
			prompt = &settingsPrompt
		}
		if cmd.Flags().Changed("model") {
			modelID = &settingsModel
		}
		if prompt == nil && modelID == nil {
			return eris.New("nothing to change: pass --prompt and/or --model")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := updateSettings(ctx, st, prompt, modelID); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "settings saved")
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable generation models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatModels(cmd.OutOrStdout(), model.Catalog)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().StringVar(&settingsPrompt, "prompt", "", "new active prompt")
	settingsSetCmd.Flags().StringVar(&settingsModel, "model", "", "generation model id (see 'models')")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd, modelsCmd)
}

// settingsStore reads and writes the settings singleton.
type settingsStore interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// updateSettings applies the non-nil fields. Editing the prompt by hand
// detaches it from the last used template. Last writer wins.
func updateSettings(ctx context.Context, st settingsStore, prompt, modelID *string) (*model.Settings, error) {
	if modelID != nil {
		if _, err := model.LookupModel(*modelID); err != nil {
			return nil, err
		}
	}

	s, err := st.GetSettings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load settings")
	}
	if prompt != nil && *prompt != s.Prompt {
		s.Prompt = *prompt
		s.LastTemplateID = ""
	}
	if modelID != nil {
		s.ModelID = *modelID
	}
	if err := st.SaveSettings(ctx, *s); err != nil {
		return nil, eris.Wrap(err, "save settings")
	}
	return s, nil
}

func formatModels(out io.Writer, catalog []model.GenerationModel) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLABEL\tDEFAULT\tDIRECT")
	for _, m := range catalog {
		def := ""
		if m.ID == model.DefaultModelID {
			def = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Label, def, m.DirectProvider)
	}
	_ = w.Flush()
}
