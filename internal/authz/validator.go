package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/policy"
)

// Reason classifies why an authorization was denied.
type Reason string

const (
	ReasonUnknownTable        Reason = "unknown_table"
	ReasonOperationNotAllowed Reason = "operation_not_allowed"
	ReasonMissingScopeValue   Reason = "missing_scope_value"
	// ReasonAccessDenied covers both "not my tenant" and "record absent";
	// the two are indistinguishable so record existence never leaks across
	// tenant boundaries.
	ReasonAccessDenied Reason = "access_denied"
)

// Decision is the outcome of one authorization check. Decisions are never
// cached across requests: tenant membership can change between requests.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Detail   string
	ScopeIDs []string // the principal's resolved accessible project set
}

// Allow builds an allowing decision carrying the resolved scope set.
func Allow(scopeIDs []string) Decision {
	return Decision{Allowed: true, ScopeIDs: scopeIDs}
}

// Deny builds a denying decision.
func Deny(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// ProjectResolver yields the projects a principal may access.
type ProjectResolver interface {
	AccessibleProjects(ctx context.Context, principal *auth.Principal) []string
}

// OwnerLookup resolves an indirect scope value (a foreign record id) to the
// project owning that record. Returns "" when the record does not resolve.
type OwnerLookup interface {
	OwningProject(ctx context.Context, ref policy.TableName, refScopeColumn, id string) (string, error)
}

// Validator emits allow/deny decisions for table operations by combining
// the policy registry, the tenant resolver and, for indirect tables, a
// one-hop owner lookup.
type Validator struct {
	resolver ProjectResolver
	owners   OwnerLookup
	logger   *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(resolver ProjectResolver, owners OwnerLookup, logger *zap.Logger) *Validator {
	return &Validator{resolver: resolver, owners: owners, logger: logger}
}

// Authorize decides whether principal may perform op on table, where
// scopeValue is the candidate record's scope column value (the project id
// for direct tables, the foreign record id for indirect tables, the target
// record id itself for principal-owned tables). For update/delete callers
// invoke Authorize twice: once against the existing record's scope value
// and once against any new scope value in the write payload.
func (v *Validator) Authorize(ctx context.Context, table string, op policy.Operation, principal *auth.Principal, scopeValue string) Decision {
	td, ok := policy.DescribeName(table)
	if !ok {
		return Deny(ReasonUnknownTable, "table is not accessible: "+table)
	}
	if !td.Allows(op) {
		return Deny(ReasonOperationNotAllowed, string(op)+" is not allowed on "+table)
	}

	switch td.ScopeMode {
	case policy.ScopeNone:
		// Unscoped reference data
		return Allow(nil)

	case policy.ScopeDirect:
		if scopeValue == "" {
			return Deny(ReasonMissingScopeValue, td.ScopeColumn+" is required for "+table)
		}
		ids := v.resolver.AccessibleProjects(ctx, principal)
		if !contains(ids, scopeValue) {
			return v.denyScope(table, op, principal, ids)
		}
		return Allow(ids)

	case policy.ScopeIndirect:
		if scopeValue == "" {
			return Deny(ReasonMissingScopeValue, td.ScopeColumn+" is required for "+table)
		}
		owner, err := v.owners.OwningProject(ctx, td.RefTable, td.RefScopeColumn, scopeValue)
		if err != nil {
			v.logger.Warn("indirect owner lookup failed",
				zap.String("table", table),
				zap.String("ref_table", string(td.RefTable)),
				zap.Error(err),
			)
			return Deny(ReasonAccessDenied, "record not found or not accessible")
		}
		if owner == "" {
			// Unresolvable owner is always denied
			return Deny(ReasonAccessDenied, "record not found or not accessible")
		}
		ids := v.resolver.AccessibleProjects(ctx, principal)
		if !contains(ids, owner) {
			return v.denyScope(table, op, principal, ids)
		}
		return Allow(ids)

	case policy.ScopePrincipalOwned:
		if scopeValue == "" {
			return Deny(ReasonMissingScopeValue, td.ScopeColumn+" is required for "+table)
		}
		ids := v.resolver.AccessibleProjects(ctx, principal)
		if !contains(ids, scopeValue) {
			return v.denyScope(table, op, principal, ids)
		}
		return Allow(ids)

	default:
		return Deny(ReasonAccessDenied, "record not found or not accessible")
	}
}

func (v *Validator) denyScope(table string, op policy.Operation, principal *auth.Principal, ids []string) Decision {
	v.logger.Debug("scope check denied",
		zap.String("table", table),
		zap.String("operation", string(op)),
		zap.String("principal_id", principal.UserID),
		zap.Int("accessible_projects", len(ids)),
	)
	d := Deny(ReasonAccessDenied, "record not found or not accessible")
	d.ScopeIDs = ids
	return d
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
