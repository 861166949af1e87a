package tools

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/authz"
	"github.com/clearbound/grc-assistant/internal/crud"
	"github.com/clearbound/grc-assistant/internal/llm"
	"github.com/clearbound/grc-assistant/internal/policy"
)

// DomainStore abstracts the read-only queries behind the domain tools.
type DomainStore interface {
	SearchControls(ctx context.Context, query string, limit int) ([]crud.Row, error)
	CountRows(ctx context.Context, table policy.TableName, projectID string) (int, error)
	RiskSeverityCounts(ctx context.Context, projectID string) (map[string]int, error)
}

// SQLDomainStore is the real DomainStore over *sql.DB.
type SQLDomainStore struct {
	db *sql.DB
}

// NewSQLDomainStore creates a SQLDomainStore.
func NewSQLDomainStore(db *sql.DB) *SQLDomainStore {
	return &SQLDomainStore{db: db}
}

func (s *SQLDomainStore) SearchControls(ctx context.Context, query string, limit int) ([]crud.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, control_ref, name, description
		FROM controls
		WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY control_ref
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crud.Row
	for rows.Next() {
		var id, ref, name, description string
		if err := rows.Scan(&id, &ref, &name, &description); err != nil {
			return nil, err
		}
		out = append(out, crud.Row{
			"id": id, "control_ref": ref, "name": name, "description": description,
		})
	}
	return out, rows.Err()
}

// countable restricts CountRows to the project-scoped tables it may touch.
var countable = map[policy.TableName]bool{
	policy.TableBoundaries:      true,
	policy.TableRiskAssessments: true,
	policy.TableThreatScenarios: true,
	policy.TableStakeholders:    true,
	policy.TableGaps:            true,
	policy.TableEvidence:        true,
}

func (s *SQLDomainStore) CountRows(ctx context.Context, table policy.TableName, projectID string) (int, error) {
	if !countable[table] {
		return 0, fmt.Errorf("table not countable: %s", table)
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE project_id = $1`, string(table))
	if err := s.db.QueryRowContext(ctx, query, projectID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLDomainStore) RiskSeverityCounts(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*)
		FROM risk_assessments
		WHERE project_id = $1
		GROUP BY severity
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity sql.NullString
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		key := severity.String
		if key == "" {
			key = "unrated"
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// suggestedQuestions is static assistant onboarding content, keyed by the
// page the user is viewing.
var suggestedQuestions = map[string][]string{
	"risks": {
		"What are the highest severity risks in this project?",
		"Summarize the risk distribution for this project.",
		"Which risks have no linked controls yet?",
	},
	"boundaries": {
		"List the boundaries defined for this project.",
		"Which controls are applied to this boundary?",
	},
	"default": {
		"Give me a summary of this project.",
		"What gaps were identified in the latest assessment?",
		"Search the control catalog for encryption requirements.",
	},
}

// DomainToolsConfig wires the read-only domain tools.
type DomainToolsConfig struct {
	Store     DomainStore
	Gateway   *crud.Gateway
	Validator *authz.Validator
	Search    llm.SearchService
}

// DomainDefinitions declares the read-only domain functions: page context,
// suggestions, control search, summaries, risk reads and web search.
func DomainDefinitions(cfg DomainToolsConfig) []Definition {
	projectIDParam := map[string]any{
		"type":        "string",
		"description": "Project id.",
	}

	return []Definition{
		{
			Name:        NameGetPageContext,
			Description: "Get the context of the page the user is currently viewing.",
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, _ *auth.Principal, _ map[string]any) (map[string]any, error) {
				pc := PageContextFrom(ctx)
				if pc == nil {
					return map[string]any{"available": false}, nil
				}
				return map[string]any{
					"available":   true,
					"pageId":      pc.PageID,
					"pageTitle":   pc.PageTitle,
					"description": pc.Description,
					"projectId":   pc.ProjectID,
				}, nil
			},
		},
		{
			Name:        NameGetSuggestedQuestions,
			Description: "Get suggested questions the user could ask on the current page.",
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, _ *auth.Principal, _ map[string]any) (map[string]any, error) {
				key := "default"
				if pc := PageContextFrom(ctx); pc != nil {
					if _, ok := suggestedQuestions[pc.PageID]; ok {
						key = pc.PageID
					}
				}
				return map[string]any{"questions": suggestedQuestions[key]}, nil
			},
		},
		{
			Name:        NameSearchControls,
			Description: "Search the shared control catalog by name or description.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search text.",
					},
				},
				"required":             []any{"query"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, _ *auth.Principal, args map[string]any) (map[string]any, error) {
				controls, err := cfg.Store.SearchControls(ctx, stringArg(args, "query"), 20)
				if err != nil {
					return nil, fmt.Errorf("search controls: %w", err)
				}
				return map[string]any{"controls": controls, "count": len(controls)}, nil
			},
		},
		{
			Name:        NameGetProjectSummary,
			Description: "Get a summary of a project: counts of boundaries, risks, threats, stakeholders, gaps and evidence.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"projectId": projectIDParam,
				},
				"required":             []any{"projectId"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
				projectID := stringArg(args, "projectId")
				if d := cfg.Validator.Authorize(ctx, string(policy.TableProjects), policy.OpRead, principal, projectID); !d.Allowed {
					return nil, fmt.Errorf("project not found or not accessible")
				}
				summary := map[string]any{"projectId": projectID}
				for _, table := range []policy.TableName{
					policy.TableBoundaries,
					policy.TableRiskAssessments,
					policy.TableThreatScenarios,
					policy.TableStakeholders,
					policy.TableGaps,
					policy.TableEvidence,
				} {
					n, err := cfg.Store.CountRows(ctx, table, projectID)
					if err != nil {
						return nil, fmt.Errorf("project summary: %w", err)
					}
					summary[string(table)] = n
				}
				return summary, nil
			},
		},
		{
			Name:        NameGetRiskSummary,
			Description: "Get risk counts grouped by severity for a project.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"projectId": projectIDParam,
				},
				"required":             []any{"projectId"},
				"additionalProperties": false,
			},
			Handler: riskSummaryHandler(cfg),
		},
		{
			Name:        NameGetRisksByDistribution,
			Description: "List risks in a project filtered by severity.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"projectId": projectIDParam,
					"severity": map[string]any{
						"type": "string",
						"enum": []any{"low", "medium", "high", "critical"},
					},
				},
				"required":             []any{"projectId", "severity"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
				rows, err := cfg.Gateway.Read(ctx, principal,
					string(policy.TableRiskAssessments),
					stringArg(args, "projectId"),
					map[string]any{"severity": stringArg(args, "severity")},
					nil,
				)
				if err != nil {
					return nil, err
				}
				return map[string]any{"risks": rows, "count": len(rows)}, nil
			},
		},
		{
			Name:        NameGetAllRisks,
			Description: "List all risks in a project.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"projectId": projectIDParam,
				},
				"required":             []any{"projectId"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
				rows, err := cfg.Gateway.Read(ctx, principal,
					string(policy.TableRiskAssessments),
					stringArg(args, "projectId"),
					nil, nil,
				)
				if err != nil {
					return nil, err
				}
				return map[string]any{"risks": rows, "count": len(rows)}, nil
			},
		},
		{
			Name:        NameWebSearch,
			Description: "Search the web for current information, standards or guidance. Returns prose with citations.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query.",
					},
				},
				"required":             []any{"query"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, _ *auth.Principal, args map[string]any) (map[string]any, error) {
				answer, err := cfg.Search.Search(ctx, stringArg(args, "query"))
				if err != nil {
					return nil, fmt.Errorf("web search: %w", err)
				}
				return map[string]any{"answer": answer}, nil
			},
		},
	}
}

func riskSummaryHandler(cfg DomainToolsConfig) Handler {
	return func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
		projectID := stringArg(args, "projectId")
		if d := cfg.Validator.Authorize(ctx, string(policy.TableRiskAssessments), policy.OpRead, principal, projectID); !d.Allowed {
			return nil, fmt.Errorf("project not found or not accessible")
		}
		counts, err := cfg.Store.RiskSeverityCounts(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("risk summary: %w", err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return map[string]any{
			"projectId":  projectID,
			"bySeverity": counts,
			"total":      total,
		}, nil
	}
}
