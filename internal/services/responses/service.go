// Package responsesvc handles interview submission and the response
// lifecycle outside of review: auto-reject heuristics, QC batches, playback
// URLs, and terminate/abandon transitions.
package responsesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/canvasshq/canvass/internal/auditlog"
	cfgpkg "github.com/canvasshq/canvass/internal/config"
	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	"github.com/canvasshq/canvass/internal/store"
	idpkg "github.com/canvasshq/canvass/pkg/id"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

// SystemReviewer is the reviewer id recorded on automated decisions.
const SystemReviewer = "system"

var (
	ErrNotFound         = errors.New("responses: not found")
	ErrDuplicateSession = errors.New("responses: session already submitted")
	ErrInvalidInput     = errors.New("responses: invalid input")
	ErrAlreadyFinal     = errors.New("responses: already in a terminal status")
	ErrBatchResolved    = errors.New("responses: batch already resolved")
)

// SubmitRequest is an incoming completed interview.
type SubmitRequest struct {
	SurveyID    string
	AC          string
	Interviewer string
	SessionID   string
	Mode        model.InterviewMode
	Respondent  model.Respondent
	Answers     map[string]any
	AudioKey    string
	DurationSec int
}

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	Response     *model.SurveyResponse
	AutoRejected bool
}

// View is a response plus derived presentation fields.
type View struct {
	*model.SurveyResponse
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

// Service manages survey responses.
type Service struct {
	rt     *runtime.Runtime
	queue  *reviewqueue.Queue
	signer *media.Signer
	logger logpkg.Logger
	rules  cfgpkg.AutoRejectRules
	ids    *idpkg.Generator
	audit  *auditlog.Log
	sample func() float64
}

// New returns a responses service.
func New(rt *runtime.Runtime, queue *reviewqueue.Queue, signer *media.Signer, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		rt:     rt,
		queue:  queue,
		signer: signer,
		logger: logger.WithComponent("responses"),
		rules:  rt.Config().AutoReject,
		ids:    idpkg.NewGenerator(),
		sample: rand.Float64,
	}
}

// WithAudit records lifecycle activity (submissions, terminations, batch
// resolutions) to the given audit log.
func (s *Service) WithAudit(a *auditlog.Log) *Service {
	s.audit = a
	return s
}

// record appends best-effort: a failed audit write never fails the operation
// it describes.
func (s *Service) record(ctx context.Context, surveyID string, ev auditlog.Event) {
	if s.audit == nil || surveyID == "" {
		return
	}
	if _, err := s.audit.Append(ctx, surveyID, ev); err != nil {
		s.logger.Warn("audit append failed",
			logpkg.Str("survey", surveyID),
			logpkg.Str("kind", ev.Kind),
			logpkg.Err(err))
	}
}

func (s *Service) validate(req *SubmitRequest) error {
	if strings.TrimSpace(req.SurveyID) == "" {
		return fmt.Errorf("%w: missing survey id", ErrInvalidInput)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Interviewer) == "" {
		return fmt.Errorf("%w: missing interviewer", ErrInvalidInput)
	}
	switch req.Mode {
	case model.ModeCAPI, model.ModeCATI:
	default:
		return fmt.Errorf("%w: unknown interview mode %q", ErrInvalidInput, req.Mode)
	}
	if req.DurationSec < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidInput)
	}
	return nil
}

// autoRejectReason applies the submission heuristics; empty means the
// response enters review normally.
func (s *Service) autoRejectReason(req *SubmitRequest) string {
	if !s.rules.Enabled {
		return ""
	}
	if s.rules.MinDurationSec > 0 && req.DurationSec < s.rules.MinDurationSec {
		return fmt.Sprintf("interview duration %ds below minimum %ds", req.DurationSec, s.rules.MinDurationSec)
	}
	if s.rules.RequireAudio && req.AudioKey == "" {
		return "no audio recording attached"
	}
	return ""
}

// SubmitInterview stores a completed interview. A session id may be
// submitted once; retries of the same session return ErrDuplicateSession.
// Auto-reject and batch addition are applied in the same write; failures of
// the batch side effect are logged and do not fail the submission.
func (s *Service) SubmitInterview(ctx context.Context, req SubmitRequest, nowMs int64) (*SubmitResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	db := s.rt.DB()
	if _, err := store.GetSurvey(db, req.SurveyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: survey %s", ErrNotFound, req.SurveyID)
		}
		return nil, err
	}

	resp := &model.SurveyResponse{
		ResponseID:  s.ids.Next().String(),
		SurveyID:    req.SurveyID,
		AC:          req.AC,
		Interviewer: req.Interviewer,
		SessionID:   req.SessionID,
		Mode:        req.Mode,
		Status:      model.StatusPendingApproval,
		Respondent:  req.Respondent,
		Answers:     req.Answers,
		AudioKey:    req.AudioKey,
		DurationSec: req.DurationSec,
		CreatedAtMs: nowMs,
	}
	reason := s.autoRejectReason(&req)
	if reason != "" {
		resp.Status = model.StatusRejected
		resp.Verification = &model.Verification{
			Decision:   model.StatusRejected,
			Feedback:   reason,
			ReviewerID: SystemReviewer,
			AtMs:       nowMs,
		}
	}

	err := db.Update(ctx, func(b *pebble.Batch) error {
		taken, err := db.Has(store.SessionKey(req.SessionID))
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateSession
		}
		if err := b.Set(store.SessionKey(req.SessionID), []byte(resp.ResponseID), nil); err != nil {
			return err
		}
		if resp.Status == model.StatusPendingApproval {
			s.attachBatch(b, resp)
			if err := reviewqueue.IndexPut(b, resp); err != nil {
				return err
			}
		}
		return store.BatchPutResponse(b, resp)
	})
	if err != nil {
		return nil, err
	}
	ev := auditlog.Event{Kind: auditlog.EventSubmitted, ActorID: resp.Interviewer, ResponseID: resp.ResponseID, AtMs: nowMs}
	if reason != "" {
		ev.Kind = auditlog.EventAutoRejected
		ev.Detail = reason
		s.logger.Info("response auto-rejected",
			logpkg.Str("response", resp.ResponseID),
			logpkg.Str("reason", reason))
	}
	s.record(ctx, resp.SurveyID, ev)
	return &SubmitResult{Response: resp, AutoRejected: reason != ""}, nil
}

// attachBatch joins the response to the survey's collecting batch when one
// is open. Best-effort: lookup failures are logged and the response enters
// review unbatched.
func (s *Service) attachBatch(b *pebble.Batch, resp *model.SurveyResponse) {
	db := s.rt.DB()
	ptr, err := db.Get(store.OpenBatchKey(resp.SurveyID))
	if err != nil {
		return
	}
	batchID := string(ptr)
	qb, err := store.GetBatch(db, batchID)
	if err != nil || qb.Status != model.BatchCollecting {
		if err != nil {
			s.logger.Warn("open batch pointer dangles",
				logpkg.Str("survey", resp.SurveyID),
				logpkg.Str("batch", batchID),
				logpkg.Err(err))
		}
		return
	}
	resp.QCBatchID = batchID
	if err := b.Set(store.BatchMemberKey(batchID, resp.ResponseID), nil, nil); err != nil {
		s.logger.Warn("batch membership write failed", logpkg.Err(err))
		resp.QCBatchID = ""
	}
}

// Get loads a response, attaching a signed playback path when audio exists.
func (s *Service) Get(ctx context.Context, responseID string) (*View, error) {
	resp, err := store.GetResponse(s.rt.DB(), responseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v := &View{SurveyResponse: resp}
	if resp.AudioKey != "" && s.signer != nil {
		v.PlaybackURL = s.signer.SignedPath(resp.AudioKey, 0)
	}
	return v, nil
}

// Terminate marks an in-progress or pending response Terminated and removes
// it from review.
func (s *Service) Terminate(ctx context.Context, responseID string) (*model.SurveyResponse, error) {
	return s.finalize(ctx, responseID, model.StatusTerminated)
}

// Abandon marks a response abandoned and removes it from review.
func (s *Service) Abandon(ctx context.Context, responseID string) (*model.SurveyResponse, error) {
	return s.finalize(ctx, responseID, model.StatusAbandoned)
}

func (s *Service) finalize(ctx context.Context, responseID string, status model.ResponseStatus) (*model.SurveyResponse, error) {
	db := s.rt.DB()
	var out *model.SurveyResponse
	err := db.Update(ctx, func(b *pebble.Batch) error {
		resp, err := store.GetResponse(db, responseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if resp.Status.Terminal() {
			return ErrAlreadyFinal
		}
		s.queue.RemoveInBatch(b, resp)
		resp.Status = status
		if err := store.BatchPutResponse(b, resp); err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	kind := auditlog.EventTerminated
	if status == model.StatusAbandoned {
		kind = auditlog.EventAbandoned
	}
	s.record(ctx, out.SurveyID, auditlog.Event{Kind: kind, ResponseID: out.ResponseID})
	return out, nil
}

// OpenBatch starts a collecting QC batch for a survey, closing out any
// previous pointer. Newly submitted responses join it until it is resolved.
func (s *Service) OpenBatch(ctx context.Context, surveyID string) (*model.QCBatch, error) {
	db := s.rt.DB()
	if _, err := store.GetSurvey(db, surveyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: survey %s", ErrNotFound, surveyID)
		}
		return nil, err
	}
	qb := &model.QCBatch{
		BatchID:     uuid.NewString(),
		SurveyID:    surveyID,
		Status:      model.BatchCollecting,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	err := db.Update(ctx, func(b *pebble.Batch) error {
		if err := b.Set(store.OpenBatchKey(surveyID), []byte(qb.BatchID), nil); err != nil {
			return err
		}
		data, err := json.Marshal(qb)
		if err != nil {
			return err
		}
		return b.Set(store.BatchKey(qb.BatchID), data, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("qc batch opened", logpkg.Str("survey", surveyID), logpkg.Str("batch", qb.BatchID))
	return qb, nil
}

// ResolveOutcome summarizes a batch resolution.
type ResolveOutcome struct {
	Batch    *model.QCBatch
	Members  int
	Sampled  int
	Released int // pending members removed from review without sampling
}

// ResolveBatch closes a collecting batch: a random share of its still-pending
// members (the survey's sample rate) stays in review marked as samples; the
// rest leave the queue with their status untouched.
func (s *Service) ResolveBatch(ctx context.Context, batchID string, nowMs int64) (*ResolveOutcome, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	db := s.rt.DB()
	var out ResolveOutcome
	err := db.Update(ctx, func(b *pebble.Batch) error {
		qb, err := store.GetBatch(db, batchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if qb.Status != model.BatchCollecting {
			return ErrBatchResolved
		}
		rate := s.rt.Config().QCSampleRate
		if svy, err := store.GetSurvey(db, qb.SurveyID); err == nil && svy.QCSampleRate > 0 {
			rate = svy.QCSampleRate
		}

		prefix := store.BatchMemberPrefix(batchID)
		it, err := db.PrefixIter(prefix)
		if err != nil {
			return err
		}
		defer it.Close()
		for ok := it.First(); ok; ok = it.Next() {
			rid := string(it.Key()[len(prefix):])
			resp, err := store.GetResponse(db, rid)
			if err != nil {
				continue
			}
			out.Members++
			if resp.Status != model.StatusPendingApproval {
				continue
			}
			if s.sample() < rate {
				resp.IsSampleResponse = true
				out.Sampled++
			} else {
				s.queue.RemoveInBatch(b, resp)
				out.Released++
			}
			if err := store.BatchPutResponse(b, resp); err != nil {
				return err
			}
		}

		qb.Status = model.BatchResolved
		qb.ResolvedAtMs = nowMs
		data, err := json.Marshal(qb)
		if err != nil {
			return err
		}
		if err := b.Set(store.BatchKey(batchID), data, nil); err != nil {
			return err
		}
		// Clear the open pointer if it still names this batch.
		if ptr, err := db.Get(store.OpenBatchKey(qb.SurveyID)); err == nil && string(ptr) == batchID {
			if err := b.Delete(store.OpenBatchKey(qb.SurveyID), nil); err != nil {
				return err
			}
		}
		out.Batch = qb
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, out.Batch.SurveyID, auditlog.Event{
		Kind:   auditlog.EventBatchResolved,
		Detail: fmt.Sprintf("batch %s: %d sampled, %d released", batchID, out.Sampled, out.Released),
		AtMs:   nowMs,
	})
	s.logger.Info("qc batch resolved",
		logpkg.Str("batch", batchID),
		logpkg.Int("members", out.Members),
		logpkg.Int("sampled", out.Sampled),
		logpkg.Int("released", out.Released))
	return &out, nil
}
