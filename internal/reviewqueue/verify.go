package reviewqueue

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/canvasshq/canvass/internal/auditlog"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

// Verdict is a quality agent's decision on a response.
type Verdict struct {
	ResponseID string
	AgentID    string
	Decision   model.ResponseStatus
	Criteria   map[string]string
	Feedback   string
}

func (v Verdict) validate() error {
	if v.ResponseID == "" || v.AgentID == "" {
		return ErrInvalidDecision
	}
	if v.Decision != model.StatusApproved && v.Decision != model.StatusRejected {
		return ErrInvalidDecision
	}
	return nil
}

// SubmitVerification finalizes a response with the agent's decision. The
// response must still be pending; a live lease held by a different agent
// blocks the submission, but an agent may decide a response it never leased
// (or whose lease expired) as long as nobody else holds it.
func (q *Queue) SubmitVerification(ctx context.Context, v Verdict, nowMs int64) (*model.SurveyResponse, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	var out *model.SurveyResponse
	err := q.db.Update(ctx, func(b *pebble.Batch) error {
		resp, err := store.GetResponse(q.db, v.ResponseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if resp.Status != model.StatusPendingApproval {
			return ErrAlreadyProcessed
		}
		if lease, err := q.getLease(v.ResponseID); err == nil {
			if lease.AgentID != v.AgentID && lease.Live(nowMs) {
				return ErrAssignedToAnotherReviewer
			}
			_ = b.Delete(LeaseKey(v.ResponseID), nil)
			_ = b.Delete(LeaseIdxKey(lease.ExpiresAtMs, v.ResponseID), nil)
			if held, err := q.db.Get(LeaseAgentKey(lease.AgentID)); err == nil && string(held) == v.ResponseID {
				_ = b.Delete(LeaseAgentKey(lease.AgentID), nil)
			}
		}
		if err := IndexDelete(b, resp); err != nil {
			return err
		}
		if prior := resp.Verification; prior != nil && prior.ReviewerID != v.AgentID {
			resp.ReviewHistory = append(resp.ReviewHistory, *prior)
		}
		resp.Status = v.Decision
		resp.Verification = &model.Verification{
			Decision:   v.Decision,
			Criteria:   v.Criteria,
			Feedback:   v.Feedback,
			ReviewerID: v.AgentID,
			AtMs:       nowMs,
		}
		if err := store.BatchPutResponse(b, resp); err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.signalInvalidate(v.AgentID)
	q.recordAudit(ctx, out.SurveyID, auditlog.Event{
		Kind:       auditlog.EventVerified,
		ActorID:    v.AgentID,
		ResponseID: v.ResponseID,
		Detail:     string(v.Decision),
		AtMs:       nowMs,
	})
	q.logger.Info("verification submitted",
		logpkg.Str("agent", v.AgentID),
		logpkg.Str("response", v.ResponseID),
		logpkg.Str("decision", string(v.Decision)))
	return out, nil
}
