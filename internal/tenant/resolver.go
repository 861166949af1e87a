package tenant

import (
	"context"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
)

// Strategy resolves the projects a principal may access under one
// historical data-ownership convention.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, principalID string) ([]string, error)
}

// Resolver walks an ordered chain of strategies and returns the first
// non-empty project set. Results are never cached: tenant membership can
// change between requests.
type Resolver struct {
	strategies []Strategy
	// checkDivergence enables a diagnostic pass over the remaining
	// strategies after one wins, to surface principals whose ownership
	// conventions disagree. Costs extra reads per request.
	checkDivergence bool
	logger          *zap.Logger
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Store           ProjectStore
	CheckDivergence bool
	Logger          *zap.Logger
}

// NewResolver creates a Resolver with the standard strategy order:
// profile-organization membership, then projects owned by the principal,
// then organization membership from user metadata.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			&profileOrgStrategy{store: cfg.Store},
			&ownedProjectsStrategy{store: cfg.Store},
			&metadataOrgStrategy{store: cfg.Store},
		},
		checkDivergence: cfg.CheckDivergence,
		logger:          cfg.Logger,
	}
}

// NewResolverWithStrategies creates a Resolver with an explicit chain (for testing).
func NewResolverWithStrategies(strategies []Strategy, logger *zap.Logger) *Resolver {
	return &Resolver{strategies: strategies, logger: logger}
}

// AccessibleProjects tries each strategy in order and stops at the first
// that returns one or more projects. Strategy errors are logged and treated
// as empty results. A principal matching no strategy gets an empty set,
// which callers treat as "no access" (fail-closed), never as an error.
func (r *Resolver) AccessibleProjects(ctx context.Context, principal *auth.Principal) []string {
	if principal == nil || principal.UserID == "" {
		return nil
	}

	for i, s := range r.strategies {
		ids, err := s.Resolve(ctx, principal.UserID)
		if err != nil {
			r.logger.Warn("tenant strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("principal_id", principal.UserID),
				zap.Error(err),
			)
			continue
		}
		if len(ids) == 0 {
			continue
		}
		if r.checkDivergence {
			r.flagDivergence(ctx, principal.UserID, i, ids)
		}
		return ids
	}
	return nil
}

// flagDivergence runs the strategies after the winning one and logs when a
// later strategy would have produced a different non-empty set. Diagnostic
// only; the winning set is already decided.
func (r *Resolver) flagDivergence(ctx context.Context, principalID string, winner int, won []string) {
	wonSet := make(map[string]bool, len(won))
	for _, id := range won {
		wonSet[id] = true
	}

	for _, s := range r.strategies[winner+1:] {
		ids, err := s.Resolve(ctx, principalID)
		if err != nil || len(ids) == 0 {
			continue
		}
		same := len(ids) == len(won)
		for _, id := range ids {
			if !wonSet[id] {
				same = false
				break
			}
		}
		if !same {
			r.logger.Warn("tenant resolution strategies diverge",
				zap.String("principal_id", principalID),
				zap.String("winning_strategy", r.strategies[winner].Name()),
				zap.String("diverging_strategy", s.Name()),
				zap.Int("winning_count", len(won)),
				zap.Int("diverging_count", len(ids)),
			)
		}
	}
}
