package reviewqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/canvasshq/canvass/internal/model"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

const baseMs = int64(1_700_000_000_000)

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestQueue(t *testing.T, db *pebblestore.DB, opts Options) *Queue {
	t.Helper()
	return New(db, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)), opts)
}

func seedResponse(t *testing.T, db *pebblestore.DB, q *Queue, surveyID, responseID string, createdMs int64, mut ...func(*model.SurveyResponse)) *model.SurveyResponse {
	t.Helper()
	r := &model.SurveyResponse{
		ResponseID:  responseID,
		SurveyID:    surveyID,
		Interviewer: "iv-1",
		SessionID:   "sess-" + responseID,
		Mode:        model.ModeCAPI,
		Status:      model.StatusPendingApproval,
		Respondent:  model.Respondent{Gender: "female", Age: 30},
		DurationSec: 400,
		CreatedAtMs: createdMs,
	}
	for _, fn := range mut {
		fn(r)
	}
	if err := store.PutResponse(db, r); err != nil {
		t.Fatalf("put response: %v", err)
	}
	if err := q.Add(context.Background(), r); err != nil {
		t.Fatalf("index response: %v", err)
	}
	return r
}

func singleScope(agentID, surveyID string) Scope {
	return Scope{AgentID: agentID, Surveys: []SurveyScope{{SurveyID: surveyID}}}
}

func TestGetNextEmptyPool(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	got, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs)
	if err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no assignment, got %v", got.Response.ResponseID)
	}
}

func TestGetNextOrdersByCreation(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-b", baseMs+2000)
	seedResponse(t, db, q, "svy-1", "r-a", baseMs+1000)

	got, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs+5000)
	if err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if got == nil || got.Response.ResponseID != "r-a" {
		t.Fatalf("expected oldest response r-a, got %+v", got)
	}
	if got.ExpiresAtMs != baseMs+5000+q.leaseTTLMs {
		t.Fatalf("unexpected lease expiry %d", got.ExpiresAtMs)
	}
}

func TestGetNextStickyContinuation(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	seedResponse(t, db, q, "svy-1", "r-2", baseMs+1)

	first, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs+100)
	if err != nil || first == nil {
		t.Fatalf("getNext: %v %v", first, err)
	}
	again, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs+200)
	if err != nil || again == nil {
		t.Fatalf("repeat getNext: %v %v", again, err)
	}
	if again.Response.ResponseID != first.Response.ResponseID {
		t.Fatalf("agent should keep its assignment: got %s, had %s", again.Response.ResponseID, first.Response.ResponseID)
	}
	if again.AssignedAtMs != first.AssignedAtMs {
		t.Fatalf("sticky continuation must not refresh the lease")
	}
}

func TestGetNextSkipsLiveLeases(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	seedResponse(t, db, q, "svy-1", "r-2", baseMs+1)

	a, err := q.GetNext(context.Background(), singleScope("agent-a", "svy-1"), Filters{}, baseMs+100)
	if err != nil || a == nil || a.Response.ResponseID != "r-1" {
		t.Fatalf("agent-a: %+v %v", a, err)
	}
	b, err := q.GetNext(context.Background(), singleScope("agent-b", "svy-1"), Filters{}, baseMs+100)
	if err != nil || b == nil || b.Response.ResponseID != "r-2" {
		t.Fatalf("agent-b should get the next response: %+v %v", b, err)
	}
}

func TestConcurrentGetNextSingleWinner(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-only", baseMs)

	const agents = 8
	var wg sync.WaitGroup
	winners := make(chan string, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := q.GetNext(context.Background(), singleScope(fmt.Sprintf("agent-%d", i), "svy-1"), Filters{}, baseMs+100)
			if err != nil {
				t.Errorf("getNext: %v", err)
				return
			}
			if got != nil {
				winners <- fmt.Sprintf("agent-%d", i)
			}
		}(i)
	}
	wg.Wait()
	close(winners)
	var won []string
	for w := range winners {
		won = append(won, w)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one winning agent, got %v", won)
	}
}

func TestGetNextReclaimsExpiredLease(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{LeaseTTL: time.Minute})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)

	a, err := q.GetNext(context.Background(), singleScope("agent-a", "svy-1"), Filters{}, baseMs)
	if err != nil || a == nil {
		t.Fatalf("agent-a: %v %v", a, err)
	}

	// Before expiry another agent sees nothing.
	b, err := q.GetNext(context.Background(), singleScope("agent-b", "svy-1"), Filters{}, baseMs+30_000)
	if err != nil || b != nil {
		t.Fatalf("lease still live, agent-b should get nothing: %+v %v", b, err)
	}

	// After expiry the response is reassignable.
	b, err = q.GetNext(context.Background(), singleScope("agent-b", "svy-1"), Filters{}, baseMs+61_000)
	if err != nil || b == nil || b.Response.ResponseID != "r-1" {
		t.Fatalf("expired lease should be reclaimed: %+v %v", b, err)
	}

	// The original holder lost the assignment.
	a2, err := q.GetNext(context.Background(), singleScope("agent-a", "svy-1"), Filters{}, baseMs+62_000)
	if err != nil || a2 != nil {
		t.Fatalf("agent-a should not keep a reassigned response: %+v %v", a2, err)
	}
}

func TestGetNextACRestriction(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-north", baseMs, func(r *model.SurveyResponse) { r.AC = "north" })
	seedResponse(t, db, q, "svy-1", "r-south", baseMs+1, func(r *model.SurveyResponse) { r.AC = "south" })

	scope := Scope{AgentID: "agent-1", Surveys: []SurveyScope{{SurveyID: "svy-1", ACs: []string{"south"}}}}
	got, err := q.GetNext(context.Background(), scope, Filters{}, baseMs+100)
	if err != nil || got == nil || got.Response.ResponseID != "r-south" {
		t.Fatalf("AC restriction not honored: %+v %v", got, err)
	}
}

func TestGetNextMergesSurveysByAge(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-a", "r-new", baseMs+2000)
	seedResponse(t, db, q, "svy-b", "r-old", baseMs+1000)

	scope := Scope{AgentID: "agent-1", Surveys: []SurveyScope{{SurveyID: "svy-a"}, {SurveyID: "svy-b"}}}
	got, err := q.GetNext(context.Background(), scope, Filters{}, baseMs+5000)
	if err != nil || got == nil || got.Response.ResponseID != "r-old" {
		t.Fatalf("oldest across surveys should win: %+v %v", got, err)
	}
}

func TestGetNextDemographicAndCELFilters(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-young", baseMs, func(r *model.SurveyResponse) { r.Respondent.Age = 19 })
	seedResponse(t, db, q, "svy-1", "r-male", baseMs+1, func(r *model.SurveyResponse) {
		r.Respondent = model.Respondent{Gender: "male", Age: 40}
	})
	seedResponse(t, db, q, "svy-1", "r-match", baseMs+2, func(r *model.SurveyResponse) {
		r.Respondent = model.Respondent{Gender: "female", Age: 35}
		r.DurationSec = 900
	})

	got, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"),
		Filters{Gender: "female", AgeMin: 25}, baseMs+100)
	if err != nil || got == nil || got.Response.ResponseID != "r-match" {
		t.Fatalf("demographic filters: %+v %v", got, err)
	}
	if err := q.Release(context.Background(), "r-match", "agent-1", baseMs+200); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err = q.GetNext(context.Background(), singleScope("agent-2", "svy-1"),
		Filters{Expr: `duration_sec > 600`}, baseMs+300)
	if err != nil || got == nil || got.Response.ResponseID != "r-match" {
		t.Fatalf("cel filter: %+v %v", got, err)
	}
}

func TestGetNextRejectsBadFilterExpr(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	_, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"),
		Filters{Expr: `duration_sec >`}, baseMs)
	if !errors.Is(err, ErrBadFilter) {
		t.Fatalf("expected ErrBadFilter, got %v", err)
	}
}

func TestGetNextExcludesBatchedUnsampled(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	if err := store.PutBatch(db, &model.QCBatch{BatchID: "b-1", SurveyID: "svy-1", Status: model.BatchResolved, CreatedAtMs: baseMs}); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	seedResponse(t, db, q, "svy-1", "r-cut", baseMs, func(r *model.SurveyResponse) { r.QCBatchID = "b-1" })
	seedResponse(t, db, q, "svy-1", "r-sampled", baseMs+1, func(r *model.SurveyResponse) {
		r.QCBatchID = "b-1"
		r.IsSampleResponse = true
	})

	got, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs+100)
	if err != nil || got == nil || got.Response.ResponseID != "r-sampled" {
		t.Fatalf("resolved-batch unsampled response must be skipped: %+v %v", got, err)
	}
}

func TestReleaseRequiresHolder(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)

	if _, err := q.GetNext(context.Background(), singleScope("agent-a", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if err := q.Release(context.Background(), "r-1", "agent-b", baseMs+100); !errors.Is(err, ErrNotYourAssignment) {
		t.Fatalf("expected ErrNotYourAssignment, got %v", err)
	}
	if err := q.Release(context.Background(), "r-1", "agent-a", baseMs+100); err != nil {
		t.Fatalf("holder release: %v", err)
	}
	// Released response keeps its original position.
	got, err := q.GetNext(context.Background(), singleScope("agent-b", "svy-1"), Filters{}, baseMs+200)
	if err != nil || got == nil || got.Response.ResponseID != "r-1" {
		t.Fatalf("released response should be reassignable: %+v %v", got, err)
	}
}

func TestSkipDeprioritizesBehindWindow(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{SkipWindow: 5})
	for i := 0; i < 8; i++ {
		seedResponse(t, db, q, "svy-1", fmt.Sprintf("r-%02d", i), baseMs+int64(i))
	}

	ctx := context.Background()
	first, err := q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, baseMs+100)
	if err != nil || first == nil || first.Response.ResponseID != "r-00" {
		t.Fatalf("first assignment: %+v %v", first, err)
	}
	if err := q.Skip(ctx, "r-00", "agent-1", baseMs+200); err != nil {
		t.Fatalf("skip: %v", err)
	}

	// The next 5 assignments are the window peers; the skipped response
	// reappears behind them, ahead of the remaining two.
	want := []string{"r-01", "r-02", "r-03", "r-04", "r-05", "r-00", "r-06", "r-07"}
	for i, exp := range want {
		now := baseMs + 300 + int64(i)
		got, err := q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, now)
		if err != nil || got == nil {
			t.Fatalf("assignment %d: %+v %v", i, got, err)
		}
		if got.Response.ResponseID != exp {
			t.Fatalf("assignment %d: want %s, got %s", i, exp, got.Response.ResponseID)
		}
		if _, err := q.SubmitVerification(ctx, Verdict{
			ResponseID: got.Response.ResponseID,
			AgentID:    "agent-1",
			Decision:   model.StatusApproved,
		}, now); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
}

func TestSkipShallowPoolGoesLast(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{SkipWindow: 100})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	seedResponse(t, db, q, "svy-1", "r-2", baseMs+1)

	ctx := context.Background()
	if _, err := q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, baseMs+100); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	if err := q.Skip(ctx, "r-1", "agent-1", baseMs+200); err != nil {
		t.Fatalf("skip: %v", err)
	}

	got, err := q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, baseMs+300)
	if err != nil || got == nil || got.Response.ResponseID != "r-2" {
		t.Fatalf("pool shallower than window: skipped must go last, got %+v %v", got, err)
	}
	if _, err := q.SubmitVerification(ctx, Verdict{ResponseID: "r-2", AgentID: "agent-1", Decision: model.StatusApproved}, baseMs+400); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err = q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, baseMs+500)
	if err != nil || got == nil || got.Response.ResponseID != "r-1" {
		t.Fatalf("skipped response should still resurface once the pool drains: %+v %v", got, err)
	}
}

func TestSkipRequiresHolder(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	if err := q.Skip(context.Background(), "r-1", "agent-x", baseMs); !errors.Is(err, ErrNotYourAssignment) {
		t.Fatalf("expected ErrNotYourAssignment, got %v", err)
	}
}

func TestSubmitVerificationLifecycle(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)

	ctx := context.Background()
	if _, err := q.GetNext(ctx, singleScope("agent-1", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	resp, err := q.SubmitVerification(ctx, Verdict{
		ResponseID: "r-1",
		AgentID:    "agent-1",
		Decision:   model.StatusRejected,
		Criteria:   map[string]string{"audio": "missing"},
		Feedback:   "no recording attached",
	}, baseMs+1000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.StatusRejected {
		t.Fatalf("status not updated: %s", resp.Status)
	}
	if resp.Verification == nil || resp.Verification.ReviewerID != "agent-1" || resp.Verification.AtMs != baseMs+1000 {
		t.Fatalf("verification record wrong: %+v", resp.Verification)
	}

	// Second decision on the same response conflicts.
	if _, err := q.SubmitVerification(ctx, Verdict{ResponseID: "r-1", AgentID: "agent-2", Decision: model.StatusApproved}, baseMs+2000); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	// The decided response is out of the pool.
	got, err := q.GetNext(ctx, singleScope("agent-2", "svy-1"), Filters{}, baseMs+3000)
	if err != nil || got != nil {
		t.Fatalf("decided response must leave the queue: %+v %v", got, err)
	}
}

func TestSubmitVerificationBlockedByOtherLease(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{LeaseTTL: time.Minute})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)

	ctx := context.Background()
	if _, err := q.GetNext(ctx, singleScope("agent-a", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	_, err := q.SubmitVerification(ctx, Verdict{ResponseID: "r-1", AgentID: "agent-b", Decision: model.StatusApproved}, baseMs+1000)
	if !errors.Is(err, ErrAssignedToAnotherReviewer) {
		t.Fatalf("expected ErrAssignedToAnotherReviewer, got %v", err)
	}

	// Once the lease expires anyone may decide.
	if _, err := q.SubmitVerification(ctx, Verdict{ResponseID: "r-1", AgentID: "agent-b", Decision: model.StatusApproved}, baseMs+61_000); err != nil {
		t.Fatalf("post-expiry submit: %v", err)
	}
}

func TestSubmitVerificationValidation(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	if _, err := q.SubmitVerification(context.Background(), Verdict{ResponseID: "r", AgentID: "a", Decision: model.StatusPendingApproval}, baseMs); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := q.SubmitVerification(context.Background(), Verdict{ResponseID: "missing", AgentID: "a", Decision: model.StatusApproved}, baseMs); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReclaimExpired(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{LeaseTTL: time.Minute})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	seedResponse(t, db, q, "svy-1", "r-2", baseMs+1)

	ctx := context.Background()
	if _, err := q.GetNext(ctx, singleScope("agent-a", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext a: %v", err)
	}
	if _, err := q.GetNext(ctx, singleScope("agent-b", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext b: %v", err)
	}

	n, err := q.ReclaimExpired(ctx, baseMs+30_000, 0)
	if err != nil || n != 0 {
		t.Fatalf("nothing expired yet: %d %v", n, err)
	}
	n, err = q.ReclaimExpired(ctx, baseMs+61_000, 0)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 reclaimed, got %d %v", n, err)
	}
	if _, err := q.getLease("r-1"); !errors.Is(err, pebblestore.ErrNotFound) {
		t.Fatalf("lease should be gone, got %v", err)
	}
}

func TestDepthCountsEligibleUnassigned(t *testing.T) {
	db := openTestDB(t)
	q := newTestQueue(t, db, Options{})
	for i := 0; i < 3; i++ {
		seedResponse(t, db, q, "svy-1", fmt.Sprintf("r-%d", i), baseMs+int64(i))
	}
	n, err := q.Depth("svy-1", baseMs+100)
	if err != nil || n != 3 {
		t.Fatalf("depth: %d %v", n, err)
	}
	if _, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs+100); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	n, err = q.Depth("svy-1", baseMs+200)
	if err != nil || n != 2 {
		t.Fatalf("depth after assignment: %d %v", n, err)
	}
}

func TestInvalidatorFires(t *testing.T) {
	db := openTestDB(t)
	var mu sync.Mutex
	var calls []string
	q := newTestQueue(t, db, Options{}).WithInvalidator(func(agentID string) {
		mu.Lock()
		calls = append(calls, agentID)
		mu.Unlock()
	})
	seedResponse(t, db, q, "svy-1", "r-1", baseMs)
	if _, err := q.GetNext(context.Background(), singleScope("agent-1", "svy-1"), Filters{}, baseMs); err != nil {
		t.Fatalf("getNext: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != "agent-1" {
		t.Fatalf("invalidator calls: %v", calls)
	}
}
