// Package surveysvc manages survey definitions and quality-agent assignments.
// An agent's review scope (which surveys and ACs they may pull from) is
// cached briefly and dropped on every assignment change or queue action so
// scope edits take effect on the agent's next pull.
package surveysvc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvasshq/canvass/internal/cache"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

var (
	ErrNotFound     = errors.New("surveys: not found")
	ErrInvalidInput = errors.New("surveys: invalid input")
)

// Service manages surveys.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
	scopes *cache.TTL[reviewqueue.Scope]
}

// New returns a surveys service. scopeTTL bounds how stale a cached agent
// scope may be; zero disables the cache.
func New(rt *runtime.Runtime, logger logpkg.Logger, scopeTTL time.Duration) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		rt:     rt,
		logger: logger.WithComponent("surveys"),
		scopes: cache.New[reviewqueue.Scope](scopeTTL),
	}
}

// InvalidateScope drops an agent's cached scope.
func (s *Service) InvalidateScope(agentID string) {
	s.scopes.Invalidate(agentID)
}

// Create registers a new survey. sampleRate <= 0 uses the configured default.
func (s *Service) Create(ctx context.Context, name string, acs []string, sampleRate float64) (*model.Survey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidInput)
	}
	if sampleRate < 0 || sampleRate > 1 {
		return nil, fmt.Errorf("%w: sample rate %v out of range", ErrInvalidInput, sampleRate)
	}
	svy := &model.Survey{
		SurveyID:     uuid.NewString(),
		Name:         name,
		ACs:          acs,
		QCSampleRate: sampleRate,
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	if err := store.PutSurvey(s.rt.DB(), svy); err != nil {
		return nil, err
	}
	s.logger.Info("survey created", logpkg.Str("survey", svy.SurveyID), logpkg.Str("name", name))
	return svy, nil
}

// Get loads a survey.
func (s *Service) Get(ctx context.Context, surveyID string) (*model.Survey, error) {
	svy, err := store.GetSurvey(s.rt.DB(), surveyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return svy, nil
}

// List returns all surveys ordered by name.
func (s *Service) List(ctx context.Context) ([]*model.Survey, error) {
	out, err := store.ListSurveys(s.rt.DB())
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AssignQualityAgent grants (or updates) an agent's review access to a
// survey, optionally restricted to a set of ACs. Empty acs means any AC.
func (s *Service) AssignQualityAgent(ctx context.Context, surveyID, agentID string, acs []string) (*model.Survey, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: empty agent id", ErrInvalidInput)
	}
	svy, err := s.Get(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if len(svy.ACs) > 0 {
		for _, ac := range acs {
			if !contains(svy.ACs, ac) {
				return nil, fmt.Errorf("%w: unknown ac %q", ErrInvalidInput, ac)
			}
		}
	}
	replaced := false
	for i := range svy.AssignedQualityAgents {
		if svy.AssignedQualityAgents[i].AgentID == agentID {
			svy.AssignedQualityAgents[i].ACs = acs
			replaced = true
			break
		}
	}
	if !replaced {
		svy.AssignedQualityAgents = append(svy.AssignedQualityAgents, model.AgentAssignment{AgentID: agentID, ACs: acs})
	}
	if err := store.PutSurvey(s.rt.DB(), svy); err != nil {
		return nil, err
	}
	s.scopes.Invalidate(agentID)
	s.logger.Info("quality agent assigned",
		logpkg.Str("survey", surveyID),
		logpkg.Str("agent", agentID),
		logpkg.Int("acs", len(acs)))
	return svy, nil
}

// UnassignQualityAgent revokes an agent's review access to a survey.
func (s *Service) UnassignQualityAgent(ctx context.Context, surveyID, agentID string) (*model.Survey, error) {
	svy, err := s.Get(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	kept := svy.AssignedQualityAgents[:0]
	for _, a := range svy.AssignedQualityAgents {
		if a.AgentID != agentID {
			kept = append(kept, a)
		}
	}
	svy.AssignedQualityAgents = kept
	if err := store.PutSurvey(s.rt.DB(), svy); err != nil {
		return nil, err
	}
	s.scopes.Invalidate(agentID)
	return svy, nil
}

// AgentScope resolves the surveys and AC restrictions an agent may review,
// serving a cached copy when fresh.
func (s *Service) AgentScope(ctx context.Context, agentID string) (reviewqueue.Scope, error) {
	if scope, ok := s.scopes.Get(agentID); ok {
		return scope, nil
	}
	all, err := store.ListSurveys(s.rt.DB())
	if err != nil {
		return reviewqueue.Scope{}, err
	}
	scope := reviewqueue.Scope{AgentID: agentID}
	for _, svy := range all {
		if acs, ok := svy.AgentACs(agentID); ok {
			scope.Surveys = append(scope.Surveys, reviewqueue.SurveyScope{SurveyID: svy.SurveyID, ACs: acs})
		}
	}
	s.scopes.Set(agentID, scope)
	return scope, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
