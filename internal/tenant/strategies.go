package tenant

import (
	"context"
	"database/sql"
)

// ProjectStore abstracts the DB queries behind the resolution strategies.
type ProjectStore interface {
	// OrgProjectsByProfile returns projects in the organization recorded on
	// the principal's profile row.
	OrgProjectsByProfile(ctx context.Context, principalID string) ([]string, error)
	// ProjectsOwnedBy returns projects the principal created directly.
	ProjectsOwnedBy(ctx context.Context, principalID string) ([]string, error)
	// OrgProjectsByUserMetadata returns projects in the organization named
	// by the principal's user-metadata blob (the oldest convention).
	OrgProjectsByUserMetadata(ctx context.Context, principalID string) ([]string, error)
}

// profileOrgStrategy resolves via the principal's profile record.
type profileOrgStrategy struct {
	store ProjectStore
}

func (s *profileOrgStrategy) Name() string { return "profile_organization" }

func (s *profileOrgStrategy) Resolve(ctx context.Context, principalID string) ([]string, error) {
	return s.store.OrgProjectsByProfile(ctx, principalID)
}

// ownedProjectsStrategy resolves via direct project ownership.
type ownedProjectsStrategy struct {
	store ProjectStore
}

func (s *ownedProjectsStrategy) Name() string { return "owned_projects" }

func (s *ownedProjectsStrategy) Resolve(ctx context.Context, principalID string) ([]string, error) {
	return s.store.ProjectsOwnedBy(ctx, principalID)
}

// metadataOrgStrategy resolves via the organization id in user metadata.
type metadataOrgStrategy struct {
	store ProjectStore
}

func (s *metadataOrgStrategy) Name() string { return "metadata_organization" }

func (s *metadataOrgStrategy) Resolve(ctx context.Context, principalID string) ([]string, error) {
	return s.store.OrgProjectsByUserMetadata(ctx, principalID)
}

// SQLProjectStore is the real ProjectStore over *sql.DB.
type SQLProjectStore struct {
	db *sql.DB
}

// NewSQLProjectStore creates a SQLProjectStore.
func NewSQLProjectStore(db *sql.DB) *SQLProjectStore {
	return &SQLProjectStore{db: db}
}

func (s *SQLProjectStore) OrgProjectsByProfile(ctx context.Context, principalID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT p.id
		FROM projects p
		JOIN profiles pr ON pr.organization_id = p.organization_id
		WHERE pr.id = $1
		ORDER BY p.created_at
	`, principalID)
}

func (s *SQLProjectStore) ProjectsOwnedBy(ctx context.Context, principalID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id
		FROM projects
		WHERE created_by = $1
		ORDER BY created_at
	`, principalID)
}

func (s *SQLProjectStore) OrgProjectsByUserMetadata(ctx context.Context, principalID string) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT p.id
		FROM projects p
		JOIN users u ON u.raw_user_meta->>'organization_id' = p.organization_id::text
		WHERE u.id = $1
		ORDER BY p.created_at
	`, principalID)
}

func (s *SQLProjectStore) queryIDs(ctx context.Context, query, principalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
