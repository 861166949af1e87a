package tenant

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
)

// stubStrategy returns fixed ids or an error and records invocations.
type stubStrategy struct {
	name  string
	ids   []string
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Resolve(_ context.Context, _ string) ([]string, error) {
	s.calls++
	return s.ids, s.err
}

func principal() *auth.Principal {
	return &auth.Principal{UserID: "u1"}
}

func TestResolver_FirstNonEmptyWins(t *testing.T) {
	first := &stubStrategy{name: "first", ids: []string{"p1", "p2"}}
	second := &stubStrategy{name: "second", ids: []string{"p9"}}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())

	ids := r.AccessibleProjects(context.Background(), principal())
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("expected [p1 p2], got %v", ids)
	}
	if second.calls != 0 {
		t.Fatal("later strategies must not run after a non-empty result")
	}
}

func TestResolver_EmptyFallsThrough(t *testing.T) {
	first := &stubStrategy{name: "first"}
	second := &stubStrategy{name: "second", ids: []string{"p3"}}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())

	ids := r.AccessibleProjects(context.Background(), principal())
	if len(ids) != 1 || ids[0] != "p3" {
		t.Fatalf("expected [p3], got %v", ids)
	}
	if first.calls != 1 {
		t.Fatalf("expected first strategy tried once, got %d", first.calls)
	}
}

func TestResolver_ErrorTreatedAsEmpty(t *testing.T) {
	first := &stubStrategy{name: "first", err: errors.New("connection refused")}
	second := &stubStrategy{name: "second", ids: []string{"p3"}}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())

	ids := r.AccessibleProjects(context.Background(), principal())
	if len(ids) != 1 || ids[0] != "p3" {
		t.Fatalf("expected [p3] despite first strategy error, got %v", ids)
	}
}

func TestResolver_NoMatchFailsClosed(t *testing.T) {
	first := &stubStrategy{name: "first"}
	second := &stubStrategy{name: "second", err: errors.New("timeout")}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())

	if ids := r.AccessibleProjects(context.Background(), principal()); len(ids) != 0 {
		t.Fatalf("expected empty set, got %v", ids)
	}
}

func TestResolver_NilPrincipal(t *testing.T) {
	first := &stubStrategy{name: "first", ids: []string{"p1"}}
	r := NewResolverWithStrategies([]Strategy{first}, zap.NewNop())

	if ids := r.AccessibleProjects(context.Background(), nil); ids != nil {
		t.Fatalf("expected nil for nil principal, got %v", ids)
	}
	if first.calls != 0 {
		t.Fatal("strategies must not run for a nil principal")
	}
}

func TestResolver_Deterministic(t *testing.T) {
	first := &stubStrategy{name: "first", ids: []string{"p1"}}
	second := &stubStrategy{name: "second", ids: []string{"p2"}}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())

	for i := 0; i < 5; i++ {
		ids := r.AccessibleProjects(context.Background(), principal())
		if len(ids) != 1 || ids[0] != "p1" {
			t.Fatalf("run %d: expected [p1], got %v", i, ids)
		}
	}
}

func TestResolver_DivergenceCheckDoesNotChangeResult(t *testing.T) {
	first := &stubStrategy{name: "first", ids: []string{"p1"}}
	second := &stubStrategy{name: "second", ids: []string{"p2", "p3"}}
	r := NewResolverWithStrategies([]Strategy{first, second}, zap.NewNop())
	r.checkDivergence = true

	ids := r.AccessibleProjects(context.Background(), principal())
	if len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("expected [p1], got %v", ids)
	}
	if second.calls != 1 {
		t.Fatalf("expected diagnostic pass over later strategy, got %d calls", second.calls)
	}
}
