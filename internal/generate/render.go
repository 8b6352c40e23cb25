package generate

import (
	"regexp"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Fallbacks replace name placeholders when the lead has no value.
type Fallbacks struct {
	FirstName   string
	CompanyName string
}

var (
	firstNameRe   = regexp.MustCompile(`(?i)\{\{firstName\}\}`)
	lastNameRe    = regexp.MustCompile(`(?i)\{\{lastName\}\}`)
	companyNameRe = regexp.MustCompile(`(?i)\{\{companyName\}\}`)
	websiteRe     = regexp.MustCompile(`(?i)\{\{website\}\}`)
	linkedinRe    = regexp.MustCompile(`(?i)\{\{linkedin\}\}`)
)

// Render substitutes lead fields into a prompt template. Tokens match
// case-insensitively. First and company name fall back to fb; the other
// tokens become empty.
func Render(tmpl string, lead model.Lead, fb Fallbacks) string {
	out := firstNameRe.ReplaceAllLiteralString(tmpl, orDefault(lead.FirstName, fb.FirstName))
	out = lastNameRe.ReplaceAllLiteralString(out, strings.TrimSpace(lead.LastName))
	out = companyNameRe.ReplaceAllLiteralString(out, orDefault(lead.CompanyName, fb.CompanyName))
	out = websiteRe.ReplaceAllLiteralString(out, strings.TrimSpace(lead.Website))
	out = linkedinRe.ReplaceAllLiteralString(out, strings.TrimSpace(lead.LinkedIn))
	return out
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
