package generate

import (
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SystemInstruction constrains tone and format of every icebreaker.
const SystemInstruction = "You are a cold outreach expert. Write only the icebreaker: " +
	"no quotation marks, no preamble. Follow the user prompt strictly."

// BuildUserMessage assembles the context block (research summary and lead
// identity) followed by the rendered user prompt.
func BuildUserMessage(rendered string, lead model.Lead, summary string) string {
	var b strings.Builder
	b.WriteString("TASK: Write a cold email icebreaker.\n\n")
	b.WriteString("CONTEXT DATA (researched from the lead's website):\n\"\"\"\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString("LEAD INFO:\n")
	b.WriteString("Name: " + strings.TrimSpace(lead.FirstName+" "+lead.LastName) + "\n")
	b.WriteString("Company: " + lead.CompanyName + "\n\n")
	b.WriteString("INSTRUCTIONS:\nUse the provided website context to make the icebreaker specific and relevant.\n\n")
	b.WriteString("USER PROMPT:\n")
	b.WriteString(rendered)
	return b.String()
}
