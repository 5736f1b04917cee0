package controllers

import (
	"net/http"
	"strings"

	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
)

// ReviewController exposes the review assignment workflow: pulling the next
// response, releasing or skipping it, and submitting the verdict.
type ReviewController struct {
	rt      *runtime.Runtime
	queue   *reviewqueue.Queue
	surveys *surveysvc.Service
	auth    *authsvc.Service
	signer  *media.Signer
}

// NewReviewController creates a review controller.
func NewReviewController(rt *runtime.Runtime, queue *reviewqueue.Queue, surveys *surveysvc.Service, auth *authsvc.Service, signer *media.Signer) *ReviewController {
	return &ReviewController{rt: rt, queue: queue, surveys: surveys, auth: auth, signer: signer}
}

// RegisterRoutes registers the review endpoints.
func (c *ReviewController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/survey-responses/next-review-assignment", c.handleNext)
	mux.HandleFunc("/api/survey-responses/submit-verification", c.handleSubmitVerification)
	// /{responseId}/release-assignment and /{responseId}/skip-assignment are
	// dispatched from the responses controller's prefix handler.
}

// assignmentView is the wire shape of a leased response.
type assignmentView struct {
	*model.SurveyResponse
	AssignedAtMs int64  `json:"assignedAtMs"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
	PlaybackURL  string `json:"playbackUrl,omitempty"`
}

func (c *ReviewController) assignmentData(a *reviewqueue.Assigned) *assignmentView {
	v := &assignmentView{SurveyResponse: a.Response, AssignedAtMs: a.AssignedAtMs, ExpiresAtMs: a.ExpiresAtMs}
	if a.Response.AudioKey != "" && c.signer != nil {
		v.PlaybackURL = c.signer.SignedPath(a.Response.AudioKey, 0)
	}
	return v
}

// handleNext leases the next eligible response for the calling agent.
//
// Query: search, gender, ageMin, ageMax, excludeResponseId, interviewMode,
// filter (CEL expression).
func (c *ReviewController) handleNext(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	p, ok := requireRole(w, r, c.auth, model.RoleQualityAgent)
	if !ok {
		return
	}
	scope, err := c.surveys.AgentScope(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	filters := reviewqueue.Filters{
		Search:            strings.TrimSpace(q.Get("search")),
		Gender:            q.Get("gender"),
		AgeMin:            parseInt(q.Get("ageMin")),
		AgeMax:            parseInt(q.Get("ageMax")),
		Mode:              q.Get("interviewMode"),
		ExcludeResponseID: q.Get("excludeResponseId"),
		Expr:              q.Get("filter"),
	}
	assigned, err := c.queue.GetNext(r.Context(), scope, filters, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if assigned == nil {
		writeMessage(w, http.StatusOK, "no responses awaiting review")
		return
	}
	writeData(w, http.StatusOK, c.assignmentData(assigned))
}

// handleRelease returns a held response to the pool.
func (c *ReviewController) handleRelease(w http.ResponseWriter, r *http.Request, responseID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	p, ok := requireRole(w, r, c.auth, model.RoleQualityAgent)
	if !ok {
		return
	}
	if err := c.queue.Release(r.Context(), responseID, p.UserID, 0); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "assignment released")
}

// handleSkip defers a held response behind its queue peers.
func (c *ReviewController) handleSkip(w http.ResponseWriter, r *http.Request, responseID string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	p, ok := requireRole(w, r, c.auth, model.RoleQualityAgent)
	if !ok {
		return
	}
	if err := c.queue.Skip(r.Context(), responseID, p.UserID, 0); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "assignment skipped")
}

// submitVerificationReq is the verdict request body.
type submitVerificationReq struct {
	ResponseID           string            `json:"responseId"`
	Status               string            `json:"status"`
	VerificationCriteria map[string]string `json:"verificationCriteria"`
	Feedback             string            `json:"feedback"`
}

// handleSubmitVerification records the agent's decision on a response.
func (c *ReviewController) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	p, ok := requireRole(w, r, c.auth, model.RoleQualityAgent)
	if !ok {
		return
	}
	var req submitVerificationReq
	if !decodeBody(w, r, &req) {
		return
	}
	var decision model.ResponseStatus
	switch strings.ToLower(req.Status) {
	case "approved":
		decision = model.StatusApproved
	case "rejected":
		decision = model.StatusRejected
	default:
		writeError(w, http.StatusBadRequest, "status must be approved or rejected")
		return
	}
	resp, err := c.queue.SubmitVerification(r.Context(), reviewqueue.Verdict{
		ResponseID: req.ResponseID,
		AgentID:    p.UserID,
		Decision:   decision,
		Criteria:   req.VerificationCriteria,
		Feedback:   req.Feedback,
	}, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}
