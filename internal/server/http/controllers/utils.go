package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
)

// envelope is the uniform response body.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeMessage writes a success envelope with a message and no data.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Message: msg})
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reviewqueue.ErrNotFound),
		errors.Is(err, responsesvc.ErrNotFound),
		errors.Is(err, surveysvc.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reviewqueue.ErrNotYourAssignment),
		errors.Is(err, reviewqueue.ErrAssignedToAnotherReviewer):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, reviewqueue.ErrAlreadyProcessed),
		errors.Is(err, responsesvc.ErrAlreadyFinal),
		errors.Is(err, responsesvc.ErrBatchResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, responsesvc.ErrDuplicateSession):
		writeDuplicate(w)
	case errors.Is(err, reviewqueue.ErrInvalidDecision),
		errors.Is(err, reviewqueue.ErrBadFilter),
		errors.Is(err, responsesvc.ErrInvalidInput),
		errors.Is(err, surveysvc.ErrInvalidInput),
		errors.Is(err, authsvc.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authsvc.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authsvc.ErrInvalidCredentials),
		errors.Is(err, authsvc.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, media.ErrExpired), errors.Is(err, media.ErrBadSignature):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeDuplicate is the dedicated shape for duplicate interview submissions.
func writeDuplicate(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"duplicate": true,
		"error":     "session already submitted",
	})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireMethod guards a handler to a single HTTP method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// parseInt parses a query integer, returning 0 for empty or invalid values.
func parseInt(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return 0
}

// principal is the authenticated caller.
type principal struct {
	UserID string
	Role   model.Role
}

// authenticate resolves the bearer token, or writes 401 and returns false.
func authenticate(w http.ResponseWriter, r *http.Request, auth *authsvc.Service) (principal, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return principal{}, false
	}
	claims, err := auth.VerifyToken(strings.TrimPrefix(h, "Bearer "))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return principal{}, false
	}
	return principal{UserID: claims.Subject, Role: claims.Role}, true
}

// requireRole authenticates and checks the caller's role.
func requireRole(w http.ResponseWriter, r *http.Request, auth *authsvc.Service, roles ...model.Role) (principal, bool) {
	p, ok := authenticate(w, r, auth)
	if !ok {
		return principal{}, false
	}
	for _, role := range roles {
		if p.Role == role {
			return p, true
		}
	}
	writeError(w, http.StatusForbidden, "insufficient role")
	return principal{}, false
}
