package surveysvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

func newTestService(t *testing.T, scopeTTL time.Duration) *Service {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)), scopeTTL)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestService(t, 0)
	ctx := context.Background()

	svy, err := s.Create(ctx, "Household Energy 2026", []string{"north", "south"}, 0.4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, svy.SurveyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(svy, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestService(t, 0)
	ctx := context.Background()
	if _, err := s.Create(ctx, "  ", nil, 0.4); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := s.Create(ctx, "x", nil, 1.5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rate out of range: %v", err)
	}
}

func TestAssignQualityAgent(t *testing.T) {
	s := newTestService(t, 0)
	ctx := context.Background()
	svy, err := s.Create(ctx, "svy", []string{"north", "south"}, 0.4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.AssignQualityAgent(ctx, svy.SurveyID, "agent-1", []string{"west"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown ac should be rejected: %v", err)
	}
	got, err := s.AssignQualityAgent(ctx, svy.SurveyID, "agent-1", []string{"north"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(got.AssignedQualityAgents) != 1 {
		t.Fatalf("assignments: %+v", got.AssignedQualityAgents)
	}

	// Re-assigning replaces the restriction instead of duplicating the agent.
	got, err = s.AssignQualityAgent(ctx, svy.SurveyID, "agent-1", nil)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(got.AssignedQualityAgents) != 1 || got.AssignedQualityAgents[0].ACs != nil {
		t.Fatalf("reassign should replace: %+v", got.AssignedQualityAgents)
	}
}

func TestAgentScopeResolution(t *testing.T) {
	s := newTestService(t, 0)
	ctx := context.Background()
	a, _ := s.Create(ctx, "alpha", nil, 0.4)
	b, _ := s.Create(ctx, "beta", []string{"north"}, 0.4)
	if _, err := s.AssignQualityAgent(ctx, a.SurveyID, "agent-1", nil); err != nil {
		t.Fatalf("assign a: %v", err)
	}
	if _, err := s.AssignQualityAgent(ctx, b.SurveyID, "agent-1", []string{"north"}); err != nil {
		t.Fatalf("assign b: %v", err)
	}

	scope, err := s.AgentScope(ctx, "agent-1")
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if len(scope.Surveys) != 2 {
		t.Fatalf("scope surveys: %+v", scope.Surveys)
	}
	byID := map[string]reviewqueue.SurveyScope{}
	for _, sc := range scope.Surveys {
		byID[sc.SurveyID] = sc
	}
	if byID[a.SurveyID].ACs != nil {
		t.Fatalf("alpha should be unrestricted: %+v", byID[a.SurveyID])
	}
	if diff := cmp.Diff([]string{"north"}, byID[b.SurveyID].ACs); diff != "" {
		t.Fatalf("beta restriction (-want +got):\n%s", diff)
	}

	other, err := s.AgentScope(ctx, "agent-2")
	if err != nil || len(other.Surveys) != 0 {
		t.Fatalf("unassigned agent scope: %+v %v", other, err)
	}
}

func TestAgentScopeCacheInvalidation(t *testing.T) {
	s := newTestService(t, time.Hour)
	ctx := context.Background()
	svy, _ := s.Create(ctx, "svy", nil, 0.4)

	scope, err := s.AgentScope(ctx, "agent-1")
	if err != nil || len(scope.Surveys) != 0 {
		t.Fatalf("initial scope: %+v %v", scope, err)
	}

	// Assignment drops the cached empty scope.
	if _, err := s.AssignQualityAgent(ctx, svy.SurveyID, "agent-1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	scope, err = s.AgentScope(ctx, "agent-1")
	if err != nil || len(scope.Surveys) != 1 {
		t.Fatalf("scope after assign: %+v %v", scope, err)
	}

	// Unassignment likewise.
	if _, err := s.UnassignQualityAgent(ctx, svy.SurveyID, "agent-1"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	scope, err = s.AgentScope(ctx, "agent-1")
	if err != nil || len(scope.Surveys) != 0 {
		t.Fatalf("scope after unassign: %+v %v", scope, err)
	}
}
