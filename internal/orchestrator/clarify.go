package orchestrator

import (
	"strings"

	"github.com/clearbound/grc-assistant/internal/tools"
)

// tenantTerms are keywords that make a query look tenant-specific. When one
// appears and the hidden page context carries no project id, the exchange
// short-circuits to a clarification instead of letting the model guess a
// tenant.
var tenantTerms = []string{
	"risk",
	"boundary",
	"boundaries",
	"control",
	"threat",
	"stakeholder",
	"gap",
	"evidence",
	"assessment",
	"questionnaire",
	"this project",
	"my project",
}

const clarificationResponse = "I can help with that, but I need to know which " +
	"project you mean. Open the project you're interested in, or tell me its name, " +
	"and ask again."

// clarificationFor returns the clarification text when the message needs
// one, or "" to proceed. Runs before any model call.
func clarificationFor(message string, pc *tools.PageContext) string {
	if pc != nil && pc.ProjectID != "" {
		return ""
	}
	lower := strings.ToLower(message)
	for _, term := range tenantTerms {
		if strings.Contains(lower, term) {
			return clarificationResponse
		}
	}
	return ""
}
