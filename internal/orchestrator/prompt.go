package orchestrator

import (
	"fmt"
	"strings"

	"github.com/clearbound/grc-assistant/internal/tools"
)

const systemPromptBase = `You are the Clearbound assistant, embedded in a GRC platform for security assessments. You help users understand and manage their projects: boundaries, risk assessments, threat scenarios, stakeholders, gaps, evidence, questionnaires and the shared control catalog.

Use the provided tools to answer questions about project data instead of guessing. Only the enumerated tables are accessible, and every read and write is checked against the user's project membership. Mutating actions (create, update, delete) are shown to the user for confirmation before they run; propose them when asked, and never pretend an action happened when it did not.

Keep answers concise and grounded in tool results. If a tool reports an error or denied access, explain plainly that the action could not be completed.`

// buildSystemPrompt appends the hidden page context, when present, so the
// model knows what the user is looking at without the user stating it.
func buildSystemPrompt(pc *tools.PageContext) string {
	if pc == nil {
		return systemPromptBase
	}

	var b strings.Builder
	b.WriteString(systemPromptBase)
	b.WriteString("\n\nThe user is currently viewing:")
	if pc.PageTitle != "" {
		b.WriteString(fmt.Sprintf("\n- Page: %s", pc.PageTitle))
	}
	if pc.PageID != "" {
		b.WriteString(fmt.Sprintf("\n- Page id: %s", pc.PageID))
	}
	if pc.Description != "" {
		b.WriteString(fmt.Sprintf("\n- Description: %s", pc.Description))
	}
	if pc.ProjectID != "" {
		b.WriteString(fmt.Sprintf("\n- Project id: %s", pc.ProjectID))
	}
	return b.String()
}
