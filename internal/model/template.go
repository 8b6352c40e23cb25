package model

import "time"

// PromptTemplate is a named, reusable prompt.
type PromptTemplate struct {
	ID        string    `json:"id" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Settings is the process-wide operator configuration. Exactly one row exists.
type Settings struct {
	Prompt         string    `json:"prompt"`
	LastTemplateID string    `json:"last_template_id,omitempty"`
	ModelID        string    `json:"model_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}
