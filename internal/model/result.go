package model

// ResearchResult is the tagged outcome of the research stage. Exactly one of
// Summary (OK) or Reason (!OK) is meaningful.
type ResearchResult struct {
	OK      bool   `json:"ok"`
	Summary string `json:"summary,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"source,omitempty"` // e.g. "sonar", "reader", "cache", "placeholder"
}

// ResearchOK builds a successful research result.
func ResearchOK(summary, source string) ResearchResult {
	return ResearchResult{OK: true, Summary: summary, Source: source}
}

// ResearchFailed builds a failed research result.
func ResearchFailed(reason string) ResearchResult {
	return ResearchResult{Reason: reason}
}

// GenerationResult is the tagged outcome of the generation stage.
type GenerationResult struct {
	OK     bool   `json:"ok"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
	Model  string `json:"model,omitempty"`
}

// GenerationOK builds a successful generation result.
func GenerationOK(text, modelID string) GenerationResult {
	return GenerationResult{OK: true, Text: text, Model: modelID}
}

// GenerationFailed builds a failed generation result.
func GenerationFailed(reason, modelID string) GenerationResult {
	return GenerationResult{Reason: reason, Model: modelID}
}

// ExportReport aggregates one export run. Errors holds each distinct failure
// message once, in first-seen order.
type ExportReport struct {
	CampaignID string   `json:"campaign_id"`
	Total      int      `json:"total"`
	Success    int      `json:"success"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}
