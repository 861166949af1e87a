package tools

import "github.com/clearbound/grc-assistant/internal/llm"

// Declared function names.
const (
	NameCreateRecord           = "create_record"
	NameReadRecords            = "read_records"
	NameUpdateRecord           = "update_record"
	NameDeleteRecord           = "delete_record"
	NameGetPageContext         = "get_page_context"
	NameGetSuggestedQuestions  = "get_suggested_questions"
	NameSearchControls         = "search_controls"
	NameGetProjectSummary      = "get_project_summary"
	NameGetRiskSummary         = "get_risk_summary"
	NameGetRisksByDistribution = "get_risks_by_distribution"
	NameGetAllRisks            = "get_all_risks"
	NameWebSearch              = "web_search"
)

// readOnly is the capability table of non-mutating functions. A proposed
// tool call is classified mutating iff its name is absent from this set, so
// unknown names fail toward the approval gate.
var readOnly = map[string]struct{}{
	NameReadRecords:            {},
	NameGetPageContext:         {},
	NameGetSuggestedQuestions:  {},
	NameSearchControls:         {},
	NameGetProjectSummary:      {},
	NameGetRiskSummary:         {},
	NameGetRisksByDistribution: {},
	NameGetAllRisks:            {},
	NameWebSearch:              {},
}

// Mutating reports whether a function name is classified as mutating.
func Mutating(name string) bool {
	_, ok := readOnly[name]
	return !ok
}

// MutatingCalls returns the subset of calls classified as mutating.
func MutatingCalls(calls []llm.ToolCall) []llm.ToolCall {
	var writes []llm.ToolCall
	for _, c := range calls {
		if Mutating(c.Function.Name) {
			writes = append(writes, c)
		}
	}
	return writes
}
