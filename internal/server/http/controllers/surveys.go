package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/canvasshq/canvass/internal/auditlog"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/runtime"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
)

// SurveysController handles survey administration and QC batches.
type SurveysController struct {
	rt        *runtime.Runtime
	svc       *surveysvc.Service
	responses *responsesvc.Service
	auth      *authsvc.Service
	audit     *auditlog.Log
}

// NewSurveysController creates a surveys controller.
func NewSurveysController(rt *runtime.Runtime, svc *surveysvc.Service, responses *responsesvc.Service, auth *authsvc.Service, audit *auditlog.Log) *SurveysController {
	return &SurveysController{rt: rt, svc: svc, responses: responses, auth: auth, audit: audit}
}

// RegisterRoutes registers survey and batch endpoints.
func (c *SurveysController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/surveys", c.handleSurveys)
	mux.HandleFunc("/api/surveys/", c.handleByID)
	mux.HandleFunc("/api/qc-batches", c.handleOpenBatch)
	mux.HandleFunc("/api/qc-batches/", c.handleBatchByID)
}

type createSurveyReq struct {
	Name       string   `json:"name"`
	ACs        []string `json:"acs"`
	SampleRate float64  `json:"qcSampleRate"`
}

func (c *SurveysController) handleSurveys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := requireRole(w, r, c.auth, model.RoleCompanyAdmin); !ok {
			return
		}
		var req createSurveyReq
		if !decodeBody(w, r, &req) {
			return
		}
		svy, err := c.svc.Create(r.Context(), req.Name, req.ACs, req.SampleRate)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, svy)
	case http.MethodGet:
		if _, ok := authenticate(w, r, c.auth); !ok {
			return
		}
		list, err := c.svc.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, list)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type assignAgentReq struct {
	AgentID string   `json:"agentId"`
	ACs     []string `json:"acs"`
	Remove  bool     `json:"remove"`
}

// handleByID dispatches /api/surveys/{surveyId}[/quality-agents].
func (c *SurveysController) handleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/surveys/")
	surveyID, action, _ := strings.Cut(rest, "/")
	if surveyID == "" {
		writeError(w, http.StatusNotFound, "missing survey id")
		return
	}
	switch action {
	case "":
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if _, ok := authenticate(w, r, c.auth); !ok {
			return
		}
		svy, err := c.svc.Get(r.Context(), surveyID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, svy)
	case "quality-agents":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if _, ok := requireRole(w, r, c.auth, model.RoleCompanyAdmin); !ok {
			return
		}
		var req assignAgentReq
		if !decodeBody(w, r, &req) {
			return
		}
		var (
			svy *model.Survey
			err error
		)
		if req.Remove {
			svy, err = c.svc.UnassignQualityAgent(r.Context(), surveyID, req.AgentID)
		} else {
			svy, err = c.svc.AssignQualityAgent(r.Context(), surveyID, req.AgentID, req.ACs)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, svy)
	case "activity":
		c.handleActivity(w, r, surveyID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

// handleActivity serves GET /api/surveys/{surveyId}/activity for admins:
// the survey's audit trail, oldest first, paginated by ?from= and ?limit=.
func (c *SurveysController) handleActivity(w http.ResponseWriter, r *http.Request, surveyID string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireRole(w, r, c.auth, model.RoleCompanyAdmin); !ok {
		return
	}
	if _, err := c.svc.Get(r.Context(), surveyID); err != nil {
		writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
	limit := parseInt(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, next, err := c.audit.Read(surveyID, auditlog.ReadOptions{
		FromSeq: from,
		Limit:   limit,
		Reverse: q.Get("order") == "desc",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"entries": entries,
		"next":    next,
	})
}

type openBatchReq struct {
	SurveyID string `json:"surveyId"`
}

func (c *SurveysController) handleOpenBatch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireRole(w, r, c.auth, model.RoleCompanyAdmin); !ok {
		return
	}
	var req openBatchReq
	if !decodeBody(w, r, &req) {
		return
	}
	qb, err := c.responses.OpenBatch(r.Context(), req.SurveyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, qb)
}

// handleBatchByID dispatches /api/qc-batches/{batchId}/resolve.
func (c *SurveysController) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/qc-batches/")
	batchID, action, _ := strings.Cut(rest, "/")
	if batchID == "" || action != "resolve" {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := requireRole(w, r, c.auth, model.RoleCompanyAdmin); !ok {
		return
	}
	out, err := c.responses.ResolveBatch(r.Context(), batchID, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"batch":    out.Batch,
		"members":  out.Members,
		"sampled":  out.Sampled,
		"released": out.Released,
	})
}
