package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	templateName    string
	templateContent string
	templateFile    string
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage saved prompt templates",
}

var templatesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List saved templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		templates, err := st.ListTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "list templates")
		}
		settings, err := st.GetSettings(ctx)
		if err != nil {
			return eris.Wrap(err, "load settings")
		}
		formatTemplates(cmd.OutOrStdout(), templates, settings.LastTemplateID)
		return nil
	},
}

var templatesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a prompt template",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		content := templateContent
		if templateFile != "" {
			data, err := os.ReadFile(templateFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", templateFile)
			}
			content = string(data)
		}
		if strings.TrimSpace(content) == "" {
			return eris.New("template content is empty: pass --content or --file")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.CreateTemplate(ctx, templateName, content)
		if err != nil {
			return eris.Wrap(err, "create template")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved template %s (%s)\n", t.Name, t.ID)
		return nil
	},
}

var templatesRmCmd = &cobra.Command{
	Use:   "rm <template-id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteTemplate(ctx, args[0]); err != nil {
			return eris.Wrap(err, "delete template")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted template %s\n", args[0])
		return nil
	},
}

var templatesUseCmd = &cobra.Command{
	Use:   "use <template-id>",
	Short: "Make a template the active prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := useTemplate(ctx, st, args[0])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "active prompt is now %q\n", t.Name)
		return nil
	},
}

var templatesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Save every template listed in a YAML file",
	Long:  "The file holds a top-level 'templates' sequence of {name, content} entries.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		templates, err := parseTemplatesYAML(data)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, t := range templates {
			if _, err := st.CreateTemplate(ctx, t.Name, t.Content); err != nil {
				return eris.Wrapf(err, "create template %q", t.Name)
			}
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates\n", len(templates))
		return nil
	},
}

func init() {
	templatesAddCmd.Flags().StringVar(&templateName, "name", "", "template name (required)")
	templatesAddCmd.Flags().StringVar(&templateContent, "content", "", "template text")
	templatesAddCmd.Flags().StringVar(&templateFile, "file", "", "read the template text from a file")
	_ = templatesAddCmd.MarkFlagRequired("name")

	templatesCmd.AddCommand(templatesLsCmd, templatesAddCmd, templatesRmCmd, templatesUseCmd, templatesImportCmd)
	rootCmd.AddCommand(templatesCmd)
}

// templateStore is the slice of the store template selection needs.
type templateStore interface {
	GetTemplate(ctx context.Context, id string) (*model.PromptTemplate, error)
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

var _ templateStore = store.Store(nil)

// useTemplate copies a template into the settings as the active prompt.
func useTemplate(ctx context.Context, st templateStore, id string) (*model.PromptTemplate, error) {
	t, err := st.GetTemplate(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "get template %s", id)
	}
	s, err := st.GetSettings(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load settings")
	}
	s.Prompt = t.Content
	s.LastTemplateID = t.ID
	if err := st.SaveSettings(ctx, *s); err != nil {
		return nil, eris.Wrap(err, "save settings")
	}
	return t, nil
}

type templateFileDoc struct {
	Templates []model.PromptTemplate `yaml:"templates"`
}

func parseTemplatesYAML(data []byte) ([]model.PromptTemplate, error) {
	var doc templateFileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "parse templates yaml")
	}
	if len(doc.Templates) == 0 {
		return nil, eris.New("templates yaml: no templates found")
	}
	for i, t := range doc.Templates {
		if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Content) == "" {
			return nil, eris.Errorf("templates yaml: entry %d needs name and content", i+1)
		}
	}
	return doc.Templates, nil
}

func formatTemplates(out io.Writer, templates []model.PromptTemplate, activeID string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCREATED\tPREVIEW")
	for _, t := range templates {
		active := ""
		if t.ID == activeID {
			active = "*"
		}
		preview := strings.Join(strings.Fields(t.Content), " ")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Name, active, t.CreatedAt.Format("2006-01-02"), truncate(preview, 60))
	}
	_ = w.Flush()
}
