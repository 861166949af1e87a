package crud

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/authz"
	"github.com/clearbound/grc-assistant/internal/policy"
)

type stubResolver struct {
	ids []string
}

func (s *stubResolver) AccessibleProjects(_ context.Context, _ *auth.Principal) []string {
	return s.ids
}

// fakeStore is an in-memory Store that records mutation attempts.
type fakeStore struct {
	rows    map[policy.TableName][]Row
	owners  map[string]string // record id -> owning project, for indirect tables
	inserts int
	updates int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:   make(map[policy.TableName][]Row),
		owners: make(map[string]string),
	}
}

func (s *fakeStore) Insert(_ context.Context, table policy.TableName, values Row) (Row, error) {
	s.inserts++
	row := make(Row, len(values)+1)
	for k, v := range values {
		row[k] = v
	}
	row["id"] = "new-id"
	s.rows[table] = append(s.rows[table], row)
	return row, nil
}

func (s *fakeStore) Select(_ context.Context, table policy.TableName, q SelectQuery) ([]Row, error) {
	var out []Row
	for _, row := range s.rows[table] {
		if !matches(row, q) {
			continue
		}
		out = append(out, row)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return projectColumns(out, q.Columns), nil
}

func (s *fakeStore) UpdateByID(_ context.Context, table policy.TableName, id string, values Row) (Row, error) {
	s.updates++
	for _, row := range s.rows[table] {
		if row["id"] == id {
			for k, v := range values {
				row[k] = v
			}
			return row, nil
		}
	}
	return nil, errors.New("no rows")
}

func (s *fakeStore) DeleteByID(_ context.Context, table policy.TableName, id string) (bool, error) {
	s.deletes++
	for i, row := range s.rows[table] {
		if row["id"] == id {
			s.rows[table] = append(s.rows[table][:i], s.rows[table][i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) OwningProject(_ context.Context, _ policy.TableName, _, id string) (string, error) {
	return s.owners[id], nil
}

func matches(row Row, q SelectQuery) bool {
	for col, want := range q.Eq {
		if want == nil {
			continue
		}
		if row[col] != want {
			return false
		}
	}
	if q.ScopeColumn != "" {
		scope, _ := row[q.ScopeColumn].(string)
		found := false
		for _, id := range q.ScopeIDs {
			if id == scope {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func projectColumns(rows []Row, columns []string) []Row {
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

func newGateway(store *fakeStore, accessible ...string) *Gateway {
	resolver := &stubResolver{ids: accessible}
	validator := authz.NewValidator(resolver, store, zap.NewNop())
	return NewGateway(store, validator, resolver, zap.NewNop())
}

func principal() *auth.Principal {
	return &auth.Principal{UserID: "u1"}
}

func TestCreate_DirectTable(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	row, err := gw.Create(context.Background(), principal(), "boundaries", Row{
		"project_id": "p1",
		"name":       "prod vpc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["id"] != "new-id" {
		t.Fatalf("expected inserted row back, got %v", row)
	}
}

func TestCreate_MissingScopeColumn(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Create(context.Background(), principal(), "boundaries", Row{"name": "orphan"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonMissingScopeValue {
		t.Fatalf("expected missing_scope_value, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("store must not be touched on policy failure")
	}
}

func TestCreate_ForeignProject(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Create(context.Background(), principal(), "boundaries", Row{"project_id": "p9"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonAccessDenied {
		t.Fatalf("expected access_denied, got %v", err)
	}
	if store.inserts != 0 {
		t.Fatal("store must not be touched on policy failure")
	}
}

func TestCreate_ProjectsNotCreatable(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Create(context.Background(), principal(), "projects", Row{"id": "p1", "name": "x"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonOperationNotAllowed {
		t.Fatalf("expected operation_not_allowed, got %v", err)
	}
}

func TestCreate_UnknownTable(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Create(context.Background(), principal(), "users", Row{"email": "x@y.z"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonUnknownTable {
		t.Fatalf("expected unknown_table, got %v", err)
	}
}

func TestRead_ScopedToAccessibleProjects(t *testing.T) {
	store := newFakeStore()
	store.rows["risk_assessments"] = []Row{
		{"id": "r1", "project_id": "p1", "severity": "high"},
		{"id": "r2", "project_id": "p9", "severity": "high"},
	}
	gw := newGateway(store, "p1")

	rows, err := gw.Read(context.Background(), principal(), "risk_assessments", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "r1" {
		t.Fatalf("expected only the caller's row, got %v", rows)
	}
}

func TestRead_EmptyScopeReturnsEmptyNotError(t *testing.T) {
	store := newFakeStore()
	store.rows["risk_assessments"] = []Row{{"id": "r1", "project_id": "p1"}}
	gw := newGateway(store) // no accessible projects

	rows, err := gw.Read(context.Background(), principal(), "risk_assessments", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty result, got %v", rows)
	}
}

func TestRead_ForeignProjectIDReturnsEmpty(t *testing.T) {
	store := newFakeStore()
	store.rows["gaps"] = []Row{{"id": "g1", "project_id": "p9"}}
	gw := newGateway(store, "p1")

	rows, err := gw.Read(context.Background(), principal(), "gaps", "p9", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty result for foreign project filter, got %v", rows)
	}
}

func TestRead_UnscopedReferenceTable(t *testing.T) {
	store := newFakeStore()
	store.rows["controls"] = []Row{{"id": "c1", "name": "encryption at rest"}}
	gw := newGateway(store) // even with no projects

	rows, err := gw.Read(context.Background(), principal(), "controls", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected reference data readable, got %v", rows)
	}
}

func TestRead_IndirectFiltersPerRow(t *testing.T) {
	store := newFakeStore()
	store.rows["boundary_controls"] = []Row{
		{"id": "bc1", "boundary_id": "b1", "control_id": "c1"},
		{"id": "bc2", "boundary_id": "b2", "control_id": "c1"},
		{"id": "bc3", "boundary_id": "b-dangling", "control_id": "c2"},
	}
	store.owners["b1"] = "p1"
	store.owners["b2"] = "p9"
	gw := newGateway(store, "p1")

	rows, err := gw.Read(context.Background(), principal(), "boundary_controls", "", nil, []string{"id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "bc1" {
		t.Fatalf("expected only the owned row, got %v", rows)
	}
	if _, ok := rows[0]["boundary_id"]; ok {
		t.Fatal("expected projection applied after scope filtering")
	}
}

func TestRead_EqualityFilters(t *testing.T) {
	store := newFakeStore()
	store.rows["risk_assessments"] = []Row{
		{"id": "r1", "project_id": "p1", "severity": "high"},
		{"id": "r2", "project_id": "p1", "severity": "low"},
	}
	gw := newGateway(store, "p1")

	rows, err := gw.Read(context.Background(), principal(), "risk_assessments", "p1",
		map[string]any{"severity": "high"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "r1" {
		t.Fatalf("expected one high severity row, got %v", rows)
	}
}

func TestUpdate_OwnedRecord(t *testing.T) {
	store := newFakeStore()
	store.rows["gaps"] = []Row{{"id": "g1", "project_id": "p1", "status": "open"}}
	gw := newGateway(store, "p1")

	row, err := gw.Update(context.Background(), principal(), "gaps", "g1", Row{"status": "closed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["status"] != "closed" {
		t.Fatalf("expected updated row, got %v", row)
	}
}

func TestUpdate_ForeignRecordNotFoundOrDenied(t *testing.T) {
	store := newFakeStore()
	store.rows["gaps"] = []Row{{"id": "g1", "project_id": "p9", "status": "open"}}
	gw := newGateway(store, "p1")

	_, err := gw.Update(context.Background(), principal(), "gaps", "g1", Row{"status": "closed"})
	if !errors.Is(err, ErrNotFoundOrDenied) {
		t.Fatalf("expected ErrNotFoundOrDenied, got %v", err)
	}
	if store.updates != 0 {
		t.Fatal("store must not be written for an unowned record")
	}
}

func TestUpdate_AbsentRecordSameError(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Update(context.Background(), principal(), "gaps", "g-missing", Row{"status": "closed"})
	if !errors.Is(err, ErrNotFoundOrDenied) {
		t.Fatalf("expected ErrNotFoundOrDenied, got %v", err)
	}
}

func TestUpdate_ScopeMoveReauthorized(t *testing.T) {
	store := newFakeStore()
	store.rows["gaps"] = []Row{{"id": "g1", "project_id": "p1"}}
	gw := newGateway(store, "p1")

	_, err := gw.Update(context.Background(), principal(), "gaps", "g1", Row{"project_id": "p9"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonAccessDenied {
		t.Fatalf("expected access_denied moving record to a foreign project, got %v", err)
	}
	if store.updates != 0 {
		t.Fatal("store must not be written when the new scope is denied")
	}
}

func TestUpdate_StripsID(t *testing.T) {
	store := newFakeStore()
	store.rows["gaps"] = []Row{{"id": "g1", "project_id": "p1", "status": "open"}}
	gw := newGateway(store, "p1")

	row, err := gw.Update(context.Background(), principal(), "gaps", "g1", Row{"id": "g-hijack"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row["id"] != "g1" {
		t.Fatalf("expected id untouched, got %v", row["id"])
	}
	if store.updates != 0 {
		t.Fatal("id-only payload must not reach the store")
	}
}

func TestUpdate_ReadOnlyTable(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Update(context.Background(), principal(), "controls", "c1", Row{"name": "x"})
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonOperationNotAllowed {
		t.Fatalf("expected operation_not_allowed, got %v", err)
	}
}

func TestDelete_OwnedRecord(t *testing.T) {
	store := newFakeStore()
	store.rows["evidence"] = []Row{{"id": "e1", "project_id": "p1"}}
	gw := newGateway(store, "p1")

	id, err := gw.Delete(context.Background(), principal(), "evidence", "e1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "e1" {
		t.Fatalf("expected deleted id e1, got %s", id)
	}
}

func TestDelete_ForeignRecordNotFoundOrDenied(t *testing.T) {
	store := newFakeStore()
	store.rows["evidence"] = []Row{{"id": "e1", "project_id": "p9"}}
	gw := newGateway(store, "p1")

	_, err := gw.Delete(context.Background(), principal(), "evidence", "e1")
	if !errors.Is(err, ErrNotFoundOrDenied) {
		t.Fatalf("expected ErrNotFoundOrDenied, got %v", err)
	}
	if store.deletes != 0 {
		t.Fatal("store must not be touched for an unowned record")
	}
	if len(store.rows["evidence"]) != 1 {
		t.Fatal("foreign record must survive")
	}
}

func TestDelete_ProjectsNotDeletable(t *testing.T) {
	store := newFakeStore()
	gw := newGateway(store, "p1")

	_, err := gw.Delete(context.Background(), principal(), "projects", "p1")
	var ae *AccessError
	if !errors.As(err, &ae) || ae.Reason != authz.ReasonOperationNotAllowed {
		t.Fatalf("expected operation_not_allowed, got %v", err)
	}
}

func TestDelete_IndirectOwnedViaBoundary(t *testing.T) {
	store := newFakeStore()
	store.rows["boundary_controls"] = []Row{{"id": "bc1", "boundary_id": "b1"}}
	store.owners["b1"] = "p1"
	gw := newGateway(store, "p1")

	id, err := gw.Delete(context.Background(), principal(), "boundary_controls", "bc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "bc1" {
		t.Fatalf("expected bc1, got %s", id)
	}
}

func TestCheckIdent(t *testing.T) {
	for _, ok := range []string{"project_id", "severity", "_internal", "a1"} {
		if err := checkIdent(ok); err != nil {
			t.Fatalf("expected %q valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1col", "col;drop table", `col"`, "Col", "col name"} {
		if err := checkIdent(bad); err == nil {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}
