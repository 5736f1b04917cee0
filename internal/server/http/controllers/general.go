package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/runtime"
)

// GeneralController handles health checks and signed audio playback.
type GeneralController struct {
	rt     *runtime.Runtime
	signer *media.Signer
}

// NewGeneralController creates a general controller.
func NewGeneralController(rt *runtime.Runtime, signer *media.Signer) *GeneralController {
	return &GeneralController{rt: rt, signer: signer}
}

// RegisterRoutes registers health and media endpoints.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/healthz", c.handleHealth)
	mux.HandleFunc("/media/", c.handlePlayback)
}

func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not serving")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePlayback verifies a signed playback URL. Audio bytes live in
// external object storage; a valid signature answers 204 so clients can
// probe links, with the storage gateway serving the actual stream.
func (c *GeneralController) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	key, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/media/"))
	if err != nil || key == "" {
		writeError(w, http.StatusNotFound, "missing media key")
		return
	}
	q := r.URL.Query()
	if err := c.signer.Verify(key, q.Get("exp"), q.Get("sig"), 0); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
