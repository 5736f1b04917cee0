package controllers

import (
	"net/http"
	"strings"

	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/runtime"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
)

// ResponsesController handles interview submission, response reads, and the
// per-response assignment actions dispatched under /api/survey-responses/.
type ResponsesController struct {
	rt     *runtime.Runtime
	svc    *responsesvc.Service
	auth   *authsvc.Service
	review *ReviewController
}

// NewResponsesController creates a responses controller. review handles the
// release/skip sub-routes that live under this controller's path prefix.
func NewResponsesController(rt *runtime.Runtime, svc *responsesvc.Service, auth *authsvc.Service, review *ReviewController) *ResponsesController {
	return &ResponsesController{rt: rt, svc: svc, auth: auth, review: review}
}

// RegisterRoutes registers the response endpoints.
func (c *ResponsesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/survey-responses", c.handleSubmit)
	mux.HandleFunc("/api/survey-responses/", c.handleByID)
}

// submitInterviewReq is an incoming completed interview.
type submitInterviewReq struct {
	SurveyID    string           `json:"surveyId"`
	AC          string           `json:"ac"`
	SessionID   string           `json:"sessionId"`
	Mode        string           `json:"interviewMode"`
	Respondent  model.Respondent `json:"respondent"`
	Answers     map[string]any   `json:"answers"`
	AudioKey    string           `json:"audioKey"`
	DurationSec int              `json:"durationSec"`
}

// handleSubmit stores a completed interview submitted by an interviewer.
func (c *ResponsesController) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	p, ok := requireRole(w, r, c.auth, model.RoleInterviewer, model.RoleCompanyAdmin)
	if !ok {
		return
	}
	var req submitInterviewReq
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := c.svc.SubmitInterview(r.Context(), responsesvc.SubmitRequest{
		SurveyID:    req.SurveyID,
		AC:          req.AC,
		Interviewer: p.UserID,
		SessionID:   req.SessionID,
		Mode:        model.InterviewMode(strings.ToLower(req.Mode)),
		Respondent:  req.Respondent,
		Answers:     req.Answers,
		AudioKey:    req.AudioKey,
		DurationSec: req.DurationSec,
	}, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"responseId":   res.Response.ResponseID,
		"status":       res.Response.Status,
		"autoRejected": res.AutoRejected,
	})
}

// handleByID dispatches /api/survey-responses/{responseId}[/action].
func (c *ResponsesController) handleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/survey-responses/")
	responseID, action, _ := strings.Cut(rest, "/")
	if responseID == "" {
		writeError(w, http.StatusNotFound, "missing response id")
		return
	}
	switch action {
	case "":
		c.handleGet(w, r, responseID)
	case "release-assignment":
		c.review.handleRelease(w, r, responseID)
	case "skip-assignment":
		c.review.handleSkip(w, r, responseID)
	case "terminate":
		c.handleFinalize(w, r, responseID, model.StatusTerminated)
	case "abandon":
		c.handleFinalize(w, r, responseID, model.StatusAbandoned)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

// handleGet returns a response with its signed playback URL.
func (c *ResponsesController) handleGet(w http.ResponseWriter, r *http.Request, responseID string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireRole(w, r, c.auth, model.RoleQualityAgent, model.RoleCompanyAdmin); !ok {
		return
	}
	v, err := c.svc.Get(r.Context(), responseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (c *ResponsesController) handleFinalize(w http.ResponseWriter, r *http.Request, responseID string, status model.ResponseStatus) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireRole(w, r, c.auth, model.RoleInterviewer, model.RoleCompanyAdmin); !ok {
		return
	}
	var (
		resp *model.SurveyResponse
		err  error
	)
	if status == model.StatusTerminated {
		resp, err = c.svc.Terminate(r.Context(), responseID)
	} else {
		resp, err = c.svc.Abandon(r.Context(), responseID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}
