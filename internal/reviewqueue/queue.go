package reviewqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/canvasshq/canvass/internal/auditlog"
	"github.com/canvasshq/canvass/internal/model"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

// skipFallbackHorizon is the "end of queue" order timestamp applied when a
// skipped response has fewer than the skip window of peers ahead of it.
const skipFallbackHorizon = 10 * 365 * 24 * time.Hour

// errNoneAvailable aborts the acquire section when the eligible pool is empty.
var errNoneAvailable = errors.New("no eligible response")

// Options configures queue behavior.
type Options struct {
	// LeaseTTL is the assignment lease duration. Zero means 30 minutes.
	LeaseTTL time.Duration
	// SkipWindow is how many eligible peers a skipped response waits behind.
	// Zero means 100.
	SkipWindow int
}

// Queue assigns survey responses to quality agents one at a time. Leases are
// acquired through the store's serialized conditional update; expiry is lazy.
type Queue struct {
	db         *pebblestore.DB
	logger     logpkg.Logger
	leaseTTLMs int64
	skipWindow int
	invalidate func(agentID string)
	audit      *auditlog.Log
}

// New creates a review queue over db.
func New(db *pebblestore.DB, logger logpkg.Logger, opts Options) *Queue {
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	window := opts.SkipWindow
	if window <= 0 {
		window = 100
	}
	return &Queue{
		db:         db,
		logger:     logger.WithComponent("reviewqueue"),
		leaseTTLMs: ttl.Milliseconds(),
		skipWindow: window,
	}
}

// WithInvalidator registers a hook called with the agent id whenever that
// agent's cached queue view must be dropped (post-assignment, post-skip).
func (q *Queue) WithInvalidator(fn func(agentID string)) *Queue {
	q.invalidate = fn
	return q
}

// SurveyScope is one survey an agent may review, with an optional AC
// restriction (nil means any AC).
type SurveyScope struct {
	SurveyID string
	ACs      []string
}

// Scope is an agent's full eligibility scope.
type Scope struct {
	AgentID string
	Surveys []SurveyScope
}

// Assigned is a leased response handed to an agent.
type Assigned struct {
	Response     *model.SurveyResponse
	AssignedAtMs int64
	ExpiresAtMs  int64
}

// WithAudit records queue activity (assignments, skips, releases, verdicts)
// to the given audit log.
func (q *Queue) WithAudit(a *auditlog.Log) *Queue {
	q.audit = a
	return q
}

func (q *Queue) signalInvalidate(agentID string) {
	if q.invalidate != nil {
		q.invalidate(agentID)
	}
}

// recordAudit appends best-effort: a failed audit write never fails the
// operation it describes.
func (q *Queue) recordAudit(ctx context.Context, surveyID string, ev auditlog.Event) {
	if q.audit == nil || surveyID == "" {
		return
	}
	if _, err := q.audit.Append(ctx, surveyID, ev); err != nil {
		q.logger.Warn("audit append failed",
			logpkg.Str("survey", surveyID),
			logpkg.Str("kind", ev.Kind),
			logpkg.Err(err))
	}
}

// GetNext returns the agent's current assignment if one is live and matches
// the filters, otherwise leases the next eligible response. A nil result with
// nil error means the eligible pool is empty.
func (q *Queue) GetNext(ctx context.Context, scope Scope, f Filters, nowMs int64) (*Assigned, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if len(scope.Surveys) == 0 {
		return nil, nil
	}
	prog, err := f.compile()
	if err != nil {
		return nil, err
	}

	// Sticky continuation: a reconnecting agent keeps its in-progress review.
	if lease, resp := q.heldAssignment(scope.AgentID, nowMs); lease != nil && resp != nil {
		if resp.Status == model.StatusPendingApproval && f.matches(resp, prog) {
			return &Assigned{Response: resp, AssignedAtMs: lease.AssignedAtMs, ExpiresAtMs: lease.ExpiresAtMs}, nil
		}
	}

	var out *Assigned
	err = q.db.Update(ctx, func(b *pebble.Batch) error {
		// Drop any live lease this agent still holds: it failed the filter
		// match above, and an agent reviews one response at a time.
		q.dropAgentLease(b, scope.AgentID)

		cand, prior, err := q.scanEligible(b, scope, f, prog, nowMs)
		if err != nil {
			return err
		}
		if cand == nil {
			return errNoneAvailable
		}
		if prior != nil {
			// Reclaim the expired lease the candidate still carries.
			_ = b.Delete(LeaseKey(cand.ResponseID), nil)
			_ = b.Delete(LeaseIdxKey(prior.ExpiresAtMs, cand.ResponseID), nil)
			if prior.AgentID != "" {
				_ = b.Delete(LeaseAgentKey(prior.AgentID), nil)
			}
		}
		lease := model.ReviewAssignment{
			ResponseID:   cand.ResponseID,
			AgentID:      scope.AgentID,
			AssignedAtMs: nowMs,
			ExpiresAtMs:  nowMs + q.leaseTTLMs,
		}
		data, err := json.Marshal(&lease)
		if err != nil {
			return err
		}
		if err := b.Set(LeaseKey(cand.ResponseID), data, nil); err != nil {
			return err
		}
		if err := b.Set(LeaseAgentKey(scope.AgentID), []byte(cand.ResponseID), nil); err != nil {
			return err
		}
		if err := b.Set(LeaseIdxKey(lease.ExpiresAtMs, cand.ResponseID), nil, nil); err != nil {
			return err
		}
		out = &Assigned{Response: cand, AssignedAtMs: lease.AssignedAtMs, ExpiresAtMs: lease.ExpiresAtMs}
		return nil
	})
	if errors.Is(err, errNoneAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.signalInvalidate(scope.AgentID)
	q.recordAudit(ctx, out.Response.SurveyID, auditlog.Event{
		Kind:       auditlog.EventAssigned,
		ActorID:    scope.AgentID,
		ResponseID: out.Response.ResponseID,
		AtMs:       nowMs,
	})
	q.logger.Debug("lease acquired",
		logpkg.Str("agent", scope.AgentID),
		logpkg.Str("response", out.Response.ResponseID),
		logpkg.Int64("expires_ms", out.ExpiresAtMs))
	return out, nil
}

// dropAgentLease deletes whatever lease the agent currently holds.
func (q *Queue) dropAgentLease(b *pebble.Batch, agentID string) {
	rid, err := q.db.Get(LeaseAgentKey(agentID))
	if err != nil {
		return
	}
	lease, err := q.getLease(string(rid))
	if err == nil && lease.AgentID == agentID {
		_ = b.Delete(LeaseKey(string(rid)), nil)
		_ = b.Delete(LeaseIdxKey(lease.ExpiresAtMs, string(rid)), nil)
	}
	_ = b.Delete(LeaseAgentKey(agentID), nil)
}

func (q *Queue) getLease(responseID string) (*model.ReviewAssignment, error) {
	data, err := q.db.Get(LeaseKey(responseID))
	if err != nil {
		return nil, err
	}
	var lease model.ReviewAssignment
	if err := json.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("decode lease %s: %w", responseID, err)
	}
	return &lease, nil
}

// heldAssignment resolves the agent's live lease and its response, or nils.
func (q *Queue) heldAssignment(agentID string, nowMs int64) (*model.ReviewAssignment, *model.SurveyResponse) {
	rid, err := q.db.Get(LeaseAgentKey(agentID))
	if err != nil {
		return nil, nil
	}
	lease, err := q.getLease(string(rid))
	if err != nil || lease.AgentID != agentID || !lease.Live(nowMs) {
		return nil, nil
	}
	resp, err := store.GetResponse(q.db, string(rid))
	if err != nil {
		return nil, nil
	}
	return lease, resp
}

// scanHead is one survey's position in the merged eligibility scan.
type scanHead struct {
	it     *pebble.Iterator
	prefix []byte
	acs    []string
}

// scanEligible walks the per-survey indexes in merged order and returns the
// first assignable response, along with its expired lease when one lingers.
// Stale index entries found along the way are deleted through b.
func (q *Queue) scanEligible(b *pebble.Batch, scope Scope, f Filters, prog celFilter, nowMs int64) (*model.SurveyResponse, *model.ReviewAssignment, error) {
	heads := make([]*scanHead, 0, len(scope.Surveys))
	defer func() {
		for _, h := range heads {
			_ = h.it.Close()
		}
	}()
	for _, sc := range scope.Surveys {
		prefix := IndexPrefix(sc.SurveyID)
		it, err := q.db.PrefixIter(prefix)
		if err != nil {
			return nil, nil, err
		}
		h := &scanHead{it: it, prefix: prefix, acs: sc.ACs}
		h.it.First()
		heads = append(heads, h)
	}

	batches := make(map[string]*model.QCBatch)
	for {
		h := minHead(heads)
		if h == nil {
			return nil, nil, nil
		}
		key := append([]byte(nil), h.it.Key()...)
		_, _, rid, ok := parseIndexKey(key, h.prefix)
		h.it.Next()
		if !ok {
			continue
		}

		resp, err := store.GetResponse(q.db, rid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = b.Delete(key, nil)
				continue
			}
			return nil, nil, err
		}
		// Index hygiene: the entry no longer reflects the document.
		if resp.Status != model.StatusPendingApproval || !bytes.Equal(indexKeyFor(resp), key) {
			if resp.Status.Terminal() {
				_ = b.Delete(key, nil)
			}
			continue
		}
		if !acAllowed(h.acs, resp.AC) {
			continue
		}
		eligible, err := q.batchEligible(resp, batches)
		if err != nil {
			return nil, nil, err
		}
		if !eligible {
			continue
		}
		var prior *model.ReviewAssignment
		if lease, err := q.getLease(rid); err == nil {
			if lease.Live(nowMs) {
				continue
			}
			prior = lease
		}
		if !f.matches(resp, prog) {
			continue
		}
		return resp, prior, nil
	}
}

// minHead picks the head with the smallest order key; exhausted heads lose.
func minHead(heads []*scanHead) *scanHead {
	var best *scanHead
	var bestKey []byte
	for _, h := range heads {
		if !h.it.Valid() {
			continue
		}
		// Compare beyond the per-survey prefix so surveys merge fairly.
		k := h.it.Key()[len(h.prefix):]
		if best == nil || bytes.Compare(k, bestKey) < 0 {
			best = h
			bestKey = append([]byte(nil), k...)
		}
	}
	return best
}

func acAllowed(acs []string, ac string) bool {
	if len(acs) == 0 {
		return true
	}
	for _, a := range acs {
		if a == ac {
			return true
		}
	}
	return false
}

// batchEligible applies the QC batch gate: responses with no batch, in a
// still-collecting batch, or sampled into review stay eligible.
func (q *Queue) batchEligible(r *model.SurveyResponse, cache map[string]*model.QCBatch) (bool, error) {
	if r.QCBatchID == "" || r.IsSampleResponse {
		return true, nil
	}
	qb, ok := cache[r.QCBatchID]
	if !ok {
		var err error
		qb, err = store.GetBatch(q.db, r.QCBatchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Orphaned batch reference: treat as unbatched.
				cache[r.QCBatchID] = &model.QCBatch{BatchID: r.QCBatchID, Status: model.BatchCollecting}
				return true, nil
			}
			return false, err
		}
		cache[r.QCBatchID] = qb
	}
	return qb.Status == model.BatchCollecting, nil
}

// Release returns the response to the pool at its original position, only if
// the caller holds the lease.
func (q *Queue) Release(ctx context.Context, responseID, agentID string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	var surveyID string
	err := q.db.Update(ctx, func(b *pebble.Batch) error {
		lease, err := q.getLease(responseID)
		if err != nil || lease.AgentID != agentID {
			return ErrNotYourAssignment
		}
		if resp, err := store.GetResponse(q.db, responseID); err == nil {
			surveyID = resp.SurveyID
		}
		_ = b.Delete(LeaseKey(responseID), nil)
		_ = b.Delete(LeaseIdxKey(lease.ExpiresAtMs, responseID), nil)
		_ = b.Delete(LeaseAgentKey(agentID), nil)
		return nil
	})
	if err != nil {
		return err
	}
	q.signalInvalidate(agentID)
	q.recordAudit(ctx, surveyID, auditlog.Event{
		Kind:       auditlog.EventReleased,
		ActorID:    agentID,
		ResponseID: responseID,
		AtMs:       nowMs,
	})
	return nil
}

// Skip clears the caller's lease and pushes the response behind up to
// SkipWindow eligible peers (or to the end of the queue when the pool is
// shallower). The count-then-set is tolerant of concurrent skips; fairness is
// approximate.
func (q *Queue) Skip(ctx context.Context, responseID, agentID string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	var surveyID string
	err := q.db.Update(ctx, func(b *pebble.Batch) error {
		lease, err := q.getLease(responseID)
		if err != nil || lease.AgentID != agentID {
			return ErrNotYourAssignment
		}
		resp, err := store.GetResponse(q.db, responseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		surveyID = resp.SurveyID
		horizon, err := q.skipHorizon(resp, nowMs)
		if err != nil {
			return err
		}
		_ = b.Delete(indexKeyFor(resp), nil)
		resp.LastSkippedAtMs = horizon
		if err := store.BatchPutResponse(b, resp); err != nil {
			return err
		}
		if err := b.Set(indexKeyFor(resp), nil, nil); err != nil {
			return err
		}
		_ = b.Delete(LeaseKey(responseID), nil)
		_ = b.Delete(LeaseIdxKey(lease.ExpiresAtMs, responseID), nil)
		_ = b.Delete(LeaseAgentKey(agentID), nil)
		return nil
	})
	if err != nil {
		return err
	}
	q.signalInvalidate(agentID)
	q.recordAudit(ctx, surveyID, auditlog.Event{
		Kind:       auditlog.EventSkipped,
		ActorID:    agentID,
		ResponseID: responseID,
		AtMs:       nowMs,
	})
	q.logger.Debug("response skipped",
		logpkg.Str("agent", agentID),
		logpkg.Str("response", responseID))
	return nil
}

// skipHorizon finds the order timestamp the skipped response should requeue
// behind: just after the SkipWindow-th eligible-unassigned peer, or far in
// the future when the pool is shallower than the window.
func (q *Queue) skipHorizon(skipped *model.SurveyResponse, nowMs int64) (int64, error) {
	prefix := IndexPrefix(skipped.SurveyID)
	it, err := q.db.PrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	counted := 0
	var lastOrderMs int64
	for ok := it.First(); ok; ok = it.Next() {
		orderMs, _, rid, ok2 := parseIndexKey(it.Key(), prefix)
		if !ok2 || rid == skipped.ResponseID {
			continue
		}
		resp, err := store.GetResponse(q.db, rid)
		if err != nil || resp.Status != model.StatusPendingApproval {
			continue
		}
		if lease, err := q.getLease(rid); err == nil && lease.Live(nowMs) {
			continue
		}
		counted++
		lastOrderMs = orderMs
		if counted >= q.skipWindow {
			// The skipped class byte sorts after fresh entries at the same
			// order timestamp, so sharing the window-th peer's timestamp
			// places the response exactly behind it.
			return lastOrderMs, nil
		}
	}
	return nowMs + skipFallbackHorizon.Milliseconds(), nil
}

// ReclaimExpired deletes lease records whose expiry has passed, returning the
// count reclaimed. GetNext treats expired leases as absent anyway; this keeps
// the lease keyspace from accumulating. max <= 0 means unbounded.
func (q *Queue) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	reclaimed := 0
	err := q.db.Update(ctx, func(b *pebble.Batch) error {
		prefix := LeaseIdxPrefix()
		it, err := q.db.PrefixIter(prefix)
		if err != nil {
			return err
		}
		defer it.Close()
		for ok := it.First(); ok; ok = it.Next() {
			k := it.Key()
			if len(k) < len(prefix)+8+1 {
				continue
			}
			exp := int64(binaryBE(k[len(prefix) : len(prefix)+8]))
			if exp > nowMs {
				break
			}
			rid := string(k[len(prefix)+8:])
			_ = b.Delete(append([]byte(nil), k...), nil)
			if lease, err := q.getLease(rid); err == nil && lease.ExpiresAtMs == exp {
				_ = b.Delete(LeaseKey(rid), nil)
				if held, err := q.db.Get(LeaseAgentKey(lease.AgentID)); err == nil && string(held) == rid {
					_ = b.Delete(LeaseAgentKey(lease.AgentID), nil)
				}
			}
			reclaimed++
			if max > 0 && reclaimed >= max {
				break
			}
		}
		return nil
	})
	return reclaimed, err
}

func binaryBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Depth counts eligible-unassigned responses in a survey's queue.
func (q *Queue) Depth(surveyID string, nowMs int64) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	prefix := IndexPrefix(surveyID)
	it, err := q.db.PrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		_, _, rid, ok2 := parseIndexKey(it.Key(), prefix)
		if !ok2 {
			continue
		}
		resp, err := store.GetResponse(q.db, rid)
		if err != nil || resp.Status != model.StatusPendingApproval {
			continue
		}
		if lease, err := q.getLease(rid); err == nil && lease.Live(nowMs) {
			continue
		}
		n++
	}
	return n, nil
}

// Add indexes a response for review eligibility.
func (q *Queue) Add(ctx context.Context, r *model.SurveyResponse) error {
	return q.db.Update(ctx, func(b *pebble.Batch) error {
		return IndexPut(b, r)
	})
}

// Remove drops all queue state for a response leaving the pool.
func (q *Queue) Remove(ctx context.Context, r *model.SurveyResponse) error {
	return q.db.Update(ctx, func(b *pebble.Batch) error {
		q.removeQueueState(b, r)
		return nil
	})
}

// RemoveInBatch stages removal of a response's index entry and any lease
// into b, for callers composing larger conditional updates.
func (q *Queue) RemoveInBatch(b *pebble.Batch, r *model.SurveyResponse) {
	q.removeQueueState(b, r)
}

func (q *Queue) removeQueueState(b *pebble.Batch, r *model.SurveyResponse) {
	_ = b.Delete(indexKeyFor(r), nil)
	if lease, err := q.getLease(r.ResponseID); err == nil {
		_ = b.Delete(LeaseKey(r.ResponseID), nil)
		_ = b.Delete(LeaseIdxKey(lease.ExpiresAtMs, r.ResponseID), nil)
		if held, err := q.db.Get(LeaseAgentKey(lease.AgentID)); err == nil && string(held) == r.ResponseID {
			_ = b.Delete(LeaseAgentKey(lease.AgentID), nil)
		}
	}
}

// IndexPut stages a response's eligibility index entry into b.
func IndexPut(b *pebble.Batch, r *model.SurveyResponse) error {
	return b.Set(indexKeyFor(r), nil, nil)
}

// IndexDelete stages removal of a response's eligibility index entry into b.
func IndexDelete(b *pebble.Batch, r *model.SurveyResponse) error {
	return b.Delete(indexKeyFor(r), nil)
}
