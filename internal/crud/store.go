package crud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clearbound/grc-assistant/internal/policy"
)

// Row is one datastore record as column → value.
type Row map[string]any

// SelectQuery restricts a Select call. Table and scope identifiers always
// come from the policy registry; filter and projection column names are
// caller-supplied and validated against identPattern before reaching SQL.
type SelectQuery struct {
	Columns     []string       // projection; empty = all columns
	Eq          map[string]any // equality filters; nil values are ignored
	ScopeColumn string         // when set, restrict ScopeColumn to ScopeIDs
	ScopeIDs    []string
	Limit       int // 0 = no limit
}

// Store abstracts datastore access for the gateway.
type Store interface {
	Insert(ctx context.Context, table policy.TableName, values Row) (Row, error)
	Select(ctx context.Context, table policy.TableName, q SelectQuery) ([]Row, error)
	UpdateByID(ctx context.Context, table policy.TableName, id string, values Row) (Row, error)
	DeleteByID(ctx context.Context, table policy.TableName, id string) (bool, error)
	// OwningProject resolves an indirect scope value to its owning project.
	// Satisfies authz.OwnerLookup.
	OwningProject(ctx context.Context, ref policy.TableName, refScopeColumn, id string) (string, error)
}

// ErrBadIdentifier is returned when a caller-supplied column name does not
// match the identifier pattern.
var ErrBadIdentifier = errors.New("invalid column identifier")

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return nil
}

// SQLStore is the real Store over *sql.DB (pgx stdlib driver).
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, table policy.TableName, values Row) (Row, error) {
	cols := sortedKeys(values)
	if err := checkIdents(cols); err != nil {
		return nil, err
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = normalizeValue(values[c])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdent(string(table)),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return s.queryOne(ctx, query, args)
}

func (s *SQLStore) Select(ctx context.Context, table policy.TableName, q SelectQuery) ([]Row, error) {
	projection := "*"
	if len(q.Columns) > 0 {
		if err := checkIdents(q.Columns); err != nil {
			return nil, err
		}
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quoteIdent(c)
		}
		projection = strings.Join(quoted, ", ")
	}

	var (
		conds []string
		args  []any
	)
	for _, c := range sortedKeys(q.Eq) {
		v := q.Eq[c]
		if v == nil {
			continue
		}
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		args = append(args, normalizeValue(v))
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteIdent(c), len(args)))
	}
	if q.ScopeColumn != "" {
		args = append(args, q.ScopeIDs)
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", quoteIdent(q.ScopeColumn), len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", projection, quoteIdent(string(table)))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQLStore) UpdateByID(ctx context.Context, table policy.TableName, id string, values Row) (Row, error) {
	cols := sortedKeys(values)
	if err := checkIdents(cols); err != nil {
		return nil, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		args = append(args, normalizeValue(values[c]))
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdent(c), len(args))
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d RETURNING *",
		quoteIdent(string(table)),
		strings.Join(sets, ", "),
		len(args),
	)
	return s.queryOne(ctx, query, args)
}

func (s *SQLStore) DeleteByID(ctx context.Context, table policy.TableName, id string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdent(string(table)))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) OwningProject(ctx context.Context, ref policy.TableName, refScopeColumn, id string) (string, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1",
		quoteIdent(refScopeColumn),
		quoteIdent(string(ref)),
	)
	var owner sql.NullString
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return owner.String, nil
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args []any) (Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parsed, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, sql.ErrNoRows
	}
	return parsed[0], nil
}

// scanRows reads all rows into generic maps, converting []byte to string.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func checkIdents(cols []string) error {
	for _, c := range cols {
		if err := checkIdent(c); err != nil {
			return err
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// normalizeValue encodes nested JSON structures as text so they bind as
// jsonb parameters; scalars pass through.
func normalizeValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
