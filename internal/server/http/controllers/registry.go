package controllers

import (
	"net/http"

	"github.com/canvasshq/canvass/internal/auditlog"
	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
)

// ControllerRegistry wires every controller and registers their routes.
type ControllerRegistry struct {
	general   *GeneralController
	auth      *AuthController
	review    *ReviewController
	responses *ResponsesController
	surveys   *SurveysController
}

// NewControllerRegistry builds all controllers over the shared services.
func NewControllerRegistry(
	rt *runtime.Runtime,
	queue *reviewqueue.Queue,
	responses *responsesvc.Service,
	surveys *surveysvc.Service,
	auth *authsvc.Service,
	signer *media.Signer,
	audit *auditlog.Log,
) *ControllerRegistry {
	review := NewReviewController(rt, queue, surveys, auth, signer)
	return &ControllerRegistry{
		general:   NewGeneralController(rt, signer),
		auth:      NewAuthController(auth),
		review:    review,
		responses: NewResponsesController(rt, responses, auth, review),
		surveys:   NewSurveysController(rt, surveys, responses, auth, audit),
	}
}

// RegisterAllRoutes registers every endpoint with the mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.auth.RegisterRoutes(mux)
	r.review.RegisterRoutes(mux)
	r.responses.RegisterRoutes(mux)
	r.surveys.RegisterRoutes(mux)
}
