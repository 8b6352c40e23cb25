package model

import "github.com/rotisserie/eris"

// Provider names the API a generation model is served from.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
)

// GenerationModel is one entry of the selectable model catalog.
type GenerationModel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	// DirectModel is the provider-native model name used when the model can be
	// served by a direct API instead of OpenRouter.
	DirectModel    string   `json:"direct_model,omitempty"`
	DirectProvider Provider `json:"direct_provider,omitempty"`
}

// DefaultModelID is the catalog entry used when settings carry no model.
const DefaultModelID = "google/gemini-3-flash-preview"

// Catalog is the fixed set of generation models an operator can select.
var Catalog = []GenerationModel{
	{ID: "google/gemini-3-flash-preview", Label: "Gemini 3 Flash"},
	{ID: "google/gemini-2.5-pro", Label: "Gemini 2.5 Pro"},
	{ID: "openai/gpt-4.1-mini", Label: "GPT-4.1 mini"},
	{
		ID:             "anthropic/claude-sonnet-4.5",
		Label:          "Claude Sonnet 4.5",
		DirectModel:    "claude-sonnet-4-5-20250929",
		DirectProvider: ProviderAnthropic,
	},
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (GenerationModel, error) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return GenerationModel{}, eris.Errorf("model: unknown generation model %q", id)
}
