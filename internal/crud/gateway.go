package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/authz"
	"github.com/clearbound/grc-assistant/internal/policy"
)

// AccessError is a policy-level rejection: the request never touched the
// datastore (or touched it only for reads that proved nothing was owned).
type AccessError struct {
	Reason authz.Reason
	Detail string
}

func (e *AccessError) Error() string {
	return string(e.Reason) + ": " + e.Detail
}

// ErrNotFoundOrDenied merges "record absent" and "not my tenant" so record
// existence never leaks across tenant boundaries.
var ErrNotFoundOrDenied = errors.New("record not found or access denied")

func accessErr(d authz.Decision) error {
	return &AccessError{Reason: d.Reason, Detail: d.Detail}
}

// Gateway executes create/read/update/delete against allow-listed tables
// using only validated parameters. Every operation is rejected before
// touching the datastore when policy validation fails; no partial mutation
// is ever attempted against a record the caller is not proven to own.
type Gateway struct {
	store     Store
	validator *authz.Validator
	resolver  authz.ProjectResolver
	logger    *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(store Store, validator *authz.Validator, resolver authz.ProjectResolver, logger *zap.Logger) *Gateway {
	return &Gateway{store: store, validator: validator, resolver: resolver, logger: logger}
}

// Create inserts a record. The payload must carry the table's scope column;
// tables marked not independently creatable (the project entity) are
// rejected outright.
func (g *Gateway) Create(ctx context.Context, principal *auth.Principal, table string, payload Row) (Row, error) {
	td, ok := policy.DescribeName(table)
	if !ok {
		return nil, &AccessError{Reason: authz.ReasonUnknownTable, Detail: "table is not accessible: " + table}
	}
	if !td.Allows(policy.OpCreate) || !td.Creatable {
		return nil, &AccessError{Reason: authz.ReasonOperationNotAllowed, Detail: "create is not allowed on " + table}
	}

	scopeValue := stringValue(payload[td.ScopeColumn])
	if scopeValue == "" {
		return nil, &AccessError{Reason: authz.ReasonMissingScopeValue, Detail: td.ScopeColumn + " is required for " + table}
	}
	if d := g.validator.Authorize(ctx, table, policy.OpCreate, principal, scopeValue); !d.Allowed {
		return nil, accessErr(d)
	}

	row, err := g.store.Insert(ctx, td.Name, payload)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	return row, nil
}

// Read returns records matching the equality filters, restricted to the
// caller's accessible scope. With projectID set, results are restricted to
// exactly that project (after authorization); without it, to the entire
// resolved accessible set. Indirect-scoped tables are filtered in process,
// one owner resolution per row.
func (g *Gateway) Read(ctx context.Context, principal *auth.Principal, table, projectID string, filters map[string]any, columns []string) ([]Row, error) {
	td, ok := policy.DescribeName(table)
	if !ok {
		return nil, &AccessError{Reason: authz.ReasonUnknownTable, Detail: "table is not accessible: " + table}
	}
	if !td.Allows(policy.OpRead) {
		return nil, &AccessError{Reason: authz.ReasonOperationNotAllowed, Detail: "read is not allowed on " + table}
	}

	switch td.ScopeMode {
	case policy.ScopeNone:
		rows, err := g.store.Select(ctx, td.Name, SelectQuery{Columns: columns, Eq: filters})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		return rows, nil

	case policy.ScopeDirect, policy.ScopePrincipalOwned:
		scopeIDs, ok := g.scopeSet(ctx, principal, projectID)
		if !ok {
			// Denied or empty scope is indistinguishable from no records
			return []Row{}, nil
		}
		rows, err := g.store.Select(ctx, td.Name, SelectQuery{
			Columns:     columns,
			Eq:          filters,
			ScopeColumn: td.ScopeColumn,
			ScopeIDs:    scopeIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}
		return rows, nil

	case policy.ScopeIndirect:
		// The scope filter cannot be pushed to the store in one step:
		// fetch by the plain filters, then authorize each row's owner.
		scopeIDs, ok := g.scopeSet(ctx, principal, projectID)
		if !ok {
			return []Row{}, nil
		}
		want := make(map[string]bool, len(scopeIDs))
		for _, id := range scopeIDs {
			want[id] = true
		}

		rows, err := g.store.Select(ctx, td.Name, SelectQuery{Eq: filters})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", table, err)
		}

		allowed := make([]Row, 0, len(rows))
		for _, row := range rows {
			ref := stringValue(row[td.ScopeColumn])
			if ref == "" {
				continue
			}
			owner, err := g.store.OwningProject(ctx, td.RefTable, td.RefScopeColumn, ref)
			if err != nil || owner == "" || !want[owner] {
				continue
			}
			allowed = append(allowed, row)
		}
		return project(allowed, columns), nil

	default:
		return []Row{}, nil
	}
}

// Update fetches the record restricted to the caller's scope (existence and
// ownership proof in one step), re-validates any new scope value in the
// payload, then applies the write.
func (g *Gateway) Update(ctx context.Context, principal *auth.Principal, table, id string, payload Row) (Row, error) {
	td, ok := policy.DescribeName(table)
	if !ok {
		return nil, &AccessError{Reason: authz.ReasonUnknownTable, Detail: "table is not accessible: " + table}
	}
	if !td.Allows(policy.OpUpdate) {
		return nil, &AccessError{Reason: authz.ReasonOperationNotAllowed, Detail: "update is not allowed on " + table}
	}

	current, err := g.fetchOwned(ctx, principal, td, id)
	if err != nil {
		return nil, err
	}

	delete(payload, "id")
	if len(payload) == 0 {
		return current, nil
	}

	// Moving the record to a new scope requires authorization there too
	if newScope := stringValue(payload[td.ScopeColumn]); newScope != "" && newScope != stringValue(current[td.ScopeColumn]) {
		if d := g.validator.Authorize(ctx, table, policy.OpUpdate, principal, newScope); !d.Allowed {
			return nil, accessErr(d)
		}
	}

	row, err := g.store.UpdateByID(ctx, td.Name, id, payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFoundOrDenied
		}
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return row, nil
}

// Delete fetches the record restricted to the caller's scope, then removes
// it and returns the deleted id.
func (g *Gateway) Delete(ctx context.Context, principal *auth.Principal, table, id string) (string, error) {
	td, ok := policy.DescribeName(table)
	if !ok {
		return "", &AccessError{Reason: authz.ReasonUnknownTable, Detail: "table is not accessible: " + table}
	}
	if !td.Allows(policy.OpDelete) {
		return "", &AccessError{Reason: authz.ReasonOperationNotAllowed, Detail: "delete is not allowed on " + table}
	}

	if _, err := g.fetchOwned(ctx, principal, td, id); err != nil {
		return "", err
	}

	deleted, err := g.store.DeleteByID(ctx, td.Name, id)
	if err != nil {
		return "", fmt.Errorf("delete %s: %w", table, err)
	}
	if !deleted {
		return "", ErrNotFoundOrDenied
	}
	return id, nil
}

// fetchOwned returns the record with the given id iff the principal owns
// it, ErrNotFoundOrDenied otherwise.
func (g *Gateway) fetchOwned(ctx context.Context, principal *auth.Principal, td *policy.TableDescriptor, id string) (Row, error) {
	switch td.ScopeMode {
	case policy.ScopeDirect, policy.ScopePrincipalOwned:
		scopeIDs := g.resolver.AccessibleProjects(ctx, principal)
		if len(scopeIDs) == 0 {
			return nil, ErrNotFoundOrDenied
		}
		rows, err := g.store.Select(ctx, td.Name, SelectQuery{
			Eq:          map[string]any{"id": id},
			ScopeColumn: td.ScopeColumn,
			ScopeIDs:    scopeIDs,
			Limit:       1,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", td.Name, err)
		}
		if len(rows) == 0 {
			return nil, ErrNotFoundOrDenied
		}
		return rows[0], nil

	case policy.ScopeIndirect:
		rows, err := g.store.Select(ctx, td.Name, SelectQuery{
			Eq:    map[string]any{"id": id},
			Limit: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", td.Name, err)
		}
		if len(rows) == 0 {
			return nil, ErrNotFoundOrDenied
		}
		current := rows[0]
		d := g.validator.Authorize(ctx, string(td.Name), policy.OpRead, principal, stringValue(current[td.ScopeColumn]))
		if !d.Allowed {
			return nil, ErrNotFoundOrDenied
		}
		return current, nil

	default:
		return nil, ErrNotFoundOrDenied
	}
}

// scopeSet resolves the effective scope for a read: the single authorized
// project when projectID is given, the full accessible set otherwise.
// ok=false means the result set must be empty.
func (g *Gateway) scopeSet(ctx context.Context, principal *auth.Principal, projectID string) ([]string, bool) {
	ids := g.resolver.AccessibleProjects(ctx, principal)
	if len(ids) == 0 {
		return nil, false
	}
	if projectID == "" {
		return ids, true
	}
	for _, id := range ids {
		if id == projectID {
			return []string{projectID}, true
		}
	}
	return nil, false
}

// project applies a column projection in process, for rows that had to be
// fetched with all columns.
func project(rows []Row, columns []string) []Row {
	if len(columns) == 0 {
		return rows
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		slim := make(Row, len(columns))
		for _, c := range columns {
			if v, ok := row[c]; ok {
				slim[c] = v
			}
		}
		out[i] = slim
	}
	return out
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
