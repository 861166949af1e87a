package tools

import (
	"context"
	"fmt"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/crud"
	"github.com/clearbound/grc-assistant/internal/policy"
)

// tableNameSchema restricts the tableName parameter to the allow-listed
// table names; the model cannot even name a table outside the registry.
func tableNameSchema() map[string]any {
	names := policy.TableNames()
	enum := make([]any, len(names))
	for i, n := range names {
		enum[i] = n
	}
	return map[string]any{
		"type":        "string",
		"description": "Target table. Only the enumerated tables are accessible.",
		"enum":        enum,
	}
}

// CRUDDefinitions declares the four generic record tools over the gateway.
func CRUDDefinitions(gw *crud.Gateway) []Definition {
	return []Definition{
		{
			Name:        NameCreateRecord,
			Description: "Create a new record in one of the project-scoped tables. The data object must include the table's project or parent reference column.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tableName": tableNameSchema(),
					"data": map[string]any{
						"type":        "object",
						"description": "Column values for the new record.",
					},
				},
				"required":             []any{"tableName", "data"},
				"additionalProperties": false,
			},
			Handler: createRecordHandler(gw),
		},
		{
			Name:        NameReadRecords,
			Description: "Read records from a table. Optionally restrict to one project, apply equality filters, or project specific columns.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tableName": tableNameSchema(),
					"projectId": map[string]any{
						"type":        "string",
						"description": "Restrict results to this project.",
					},
					"filters": map[string]any{
						"type":        "object",
						"description": "Equality filters as column: value pairs.",
					},
					"columns": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Columns to return; omit for all columns.",
					},
				},
				"required":             []any{"tableName"},
				"additionalProperties": false,
			},
			Handler: readRecordsHandler(gw),
		},
		{
			Name:        NameUpdateRecord,
			Description: "Update an existing record by id. Only records in the caller's projects can be updated.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tableName": tableNameSchema(),
					"id": map[string]any{
						"type":        "string",
						"description": "Record id.",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Column values to change.",
					},
				},
				"required":             []any{"tableName", "id", "data"},
				"additionalProperties": false,
			},
			Handler: updateRecordHandler(gw),
		},
		{
			Name:        NameDeleteRecord,
			Description: "Delete a record by id. Only records in the caller's projects can be deleted.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tableName": tableNameSchema(),
					"id": map[string]any{
						"type":        "string",
						"description": "Record id.",
					},
				},
				"required":             []any{"tableName", "id"},
				"additionalProperties": false,
			},
			Handler: deleteRecordHandler(gw),
		},
	}
}

func createRecordHandler(gw *crud.Gateway) Handler {
	return func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
		table := stringArg(args, "tableName")
		data, _ := args["data"].(map[string]any)
		if len(data) == 0 {
			return nil, fmt.Errorf("data must be a non-empty object")
		}
		row, err := gw.Create(ctx, principal, table, data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record": row}, nil
	}
}

func readRecordsHandler(gw *crud.Gateway) Handler {
	return func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
		table := stringArg(args, "tableName")
		projectID := stringArg(args, "projectId")
		filters, _ := args["filters"].(map[string]any)
		columns := stringSliceArg(args, "columns")

		rows, err := gw.Read(ctx, principal, table, projectID, filters, columns)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": rows, "count": len(rows)}, nil
	}
}

func updateRecordHandler(gw *crud.Gateway) Handler {
	return func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
		table := stringArg(args, "tableName")
		id := stringArg(args, "id")
		data, _ := args["data"].(map[string]any)
		if len(data) == 0 {
			return nil, fmt.Errorf("data must be a non-empty object")
		}
		row, err := gw.Update(ctx, principal, table, id, data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record": row}, nil
	}
}

func deleteRecordHandler(gw *crud.Gateway) Handler {
	return func(ctx context.Context, principal *auth.Principal, args map[string]any) (map[string]any, error) {
		table := stringArg(args, "tableName")
		id := stringArg(args, "id")
		deletedID, err := gw.Delete(ctx, principal, table, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deletedId": deletedID, "status": "deleted"}, nil
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
