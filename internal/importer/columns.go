package importer

import "strings"

// Candidate header names per lead field, most specific first.
var (
	emailColumns     = []string{"Email", "Email Address", "E-mail", "Contact Email", "Primary Email"}
	websiteColumns   = []string{"Website", "Company Website", "Company Url", "Url"}
	firstNameColumns = []string{"First Name", "FirstName", "Given Name"}
	lastNameColumns  = []string{"Last Name", "LastName", "Surname"}
	companyColumns   = []string{"Company Name", "Company", "Organization", "Company Name for Emails"}
	linkedInColumns  = []string{"Person Linkedin Url", "Linkedin", "Linkedin Url"}
)

// headers holds the normalized header row of a table.
type headers []string

func newHeaders(raw []string) headers {
	h := make(headers, len(raw))
	for i, name := range raw {
		h[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return h
}

// pick returns the first non-empty cell whose header equals one of the
// candidates (case-insensitive), falling back to headers that contain a
// candidate and none of the excluded words.
func (h headers) pick(row []string, candidates []string, exclude ...string) string {
	for _, c := range candidates {
		c = strings.ToLower(c)
		for i, name := range h {
			if name == c {
				if v := cell(row, i); v != "" {
					return v
				}
			}
		}
	}
	for _, c := range candidates {
		c = strings.ToLower(c)
		for i, name := range h {
			if strings.Contains(name, c) && !containsAny(name, exclude) {
				if v := cell(row, i); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// email finds the address column. Any header mentioning "email" is the last
// resort, except status or source columns that sit next to it in CRM exports.
func (h headers) email(row []string) string {
	if v := h.pick(row, emailColumns, emailMeta...); v != "" {
		return v
	}
	for i, name := range h {
		if strings.Contains(name, "email") && !containsAny(name, emailMeta) {
			if v := cell(row, i); v != "" {
				return v
			}
		}
	}
	return ""
}

var emailMeta = []string{"status", "source"}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
