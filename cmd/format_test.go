package main

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/importer"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

func TestFormatListSummaries(t *testing.T) {
	var buf bytes.Buffer
	formatListSummaries(&buf, []model.ListSummary{{
		Name:  "berlin-q1",
		Total: 12,
		Counts: map[model.LeadStatus]int{
			model.LeadStatusPending:    4,
			model.LeadStatusInProgress: 1,
			model.LeadStatusScraped:    1,
			model.LeadStatusGenerated:  5,
			model.LeadStatusError:      1,
		},
		CreatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PENDING")
	assert.Equal(t, []string{"berlin-q1", "12", "4", "2", "5", "1", "0", "2025-03-01", "09:30"}, strings.Fields(lines[1]))
}

func TestFormatLeads(t *testing.T) {
	var buf bytes.Buffer
	formatLeads(&buf, []model.Lead{
		{ID: "a", Email: "a@x.com", Status: model.LeadStatusGenerated, Icebreaker: "Loved your launch"},
		{ID: "b", Email: "b@x.com", Status: model.LeadStatusError, ErrorMessage: "research: timeout", Icebreaker: ""},
	})

	out := buf.String()
	assert.Contains(t, out, "Loved your launch")
	assert.Contains(t, out, "research: timeout")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "äöüäöüä...", truncate("äöüäöüäöüäöü", 10))
}

func TestFormatImportStats(t *testing.T) {
	var buf bytes.Buffer
	formatImportStats(&buf, &importer.Stats{List: "l", Total: 10, Imported: 6, Skipped: 1, OptedOut: 2, Duplicates: 1})
	out := buf.String()
	assert.Contains(t, out, `list "l": 10 rows, 6 imported`)
	assert.Contains(t, out, "opted out:          2")
}

func TestFormatRunSummary(t *testing.T) {
	tests := []struct {
		name    string
		summary pipeline.RunSummary
		want    []string
	}{
		{
			name:    "completed",
			summary: pipeline.RunSummary{List: "l", TotalAtStart: 12, Batches: 3, Processed: 12, Generated: 10, Failed: 2, Completed: true, Duration: 90 * time.Second},
			want:    []string{"l: completed after 1m30s", "processed 12 of 12 in 3 batches: 10 generated, 2 failed"},
		},
		{
			name:    "cancelled with released claims",
			summary: pipeline.RunSummary{List: "l", Processed: 5, Cancelled: true, Released: 5, StaleReleased: 1},
			want:    []string{"l: cancelled", "returned to pending: 1 stale, 5 unprocessed"},
		},
		{
			name:    "persist failures",
			summary: pipeline.RunSummary{List: "l", PersistFailures: 2},
			want:    []string{"l: stopped", "2 results could not be saved"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatRunSummary(&buf, &tt.summary)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestWriteLeadsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := writeLeadsCSV(&buf, []model.Lead{{
		Email:       "ada@example.com",
		FirstName:   "Ada",
		CompanyName: "Analytical, Ltd",
		Icebreaker:  "Saw your \"engine\" post",
		Status:      model.LeadStatusGenerated,
	}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, leadCSVHeader, records[0])
	assert.Equal(t, []string{"ada@example.com", "Ada", "", "Analytical, Ltd", "", "", "Saw your \"engine\" post", "generated"}, records[1])
}

func TestFormatModels(t *testing.T) {
	var buf bytes.Buffer
	formatModels(&buf, model.Catalog)
	out := buf.String()
	for _, m := range model.Catalog {
		assert.Contains(t, out, m.ID)
	}
	assert.Contains(t, out, "anthropic")
}

func TestFormatExportReport(t *testing.T) {
	var buf bytes.Buffer
	formatExportReport(&buf, &model.ExportReport{CampaignID: "cam_1", Total: 10, Success: 4, Failed: 6, Errors: []string{"bad email", "quota"}})
	out := buf.String()
	assert.Contains(t, out, "campaign cam_1: 10 leads, 4 exported, 6 failed")
	assert.Equal(t, 2, strings.Count(out, "error:"))
}

func TestParseTemplatesYAML(t *testing.T) {
	data := []byte(`
templates:
  - name: Intro
    content: "Hi {{firstName}}, saw {{companyName}}"
  - name: Follow-up
    content: |
      Hey {{firstName}},
      quick follow-up.
`)
	templates, err := parseTemplatesYAML(data)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "Intro", templates[0].Name)
	assert.Equal(t, "Hi {{firstName}}, saw {{companyName}}", templates[0].Content)
	assert.Contains(t, templates[1].Content, "quick follow-up.")
}

func TestParseTemplatesYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"invalid yaml", "templates: [", "parse templates yaml"},
		{"empty", "templates: []", "no templates found"},
		{"missing content", "templates:\n  - name: x\n", "entry 1 needs name and content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTemplatesYAML([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
