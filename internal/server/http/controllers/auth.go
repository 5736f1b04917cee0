package controllers

import (
	"net/http"

	"github.com/canvasshq/canvass/internal/model"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
)

// AuthController handles registration and login.
type AuthController struct {
	auth *authsvc.Service
}

// NewAuthController creates an auth controller.
func NewAuthController(auth *authsvc.Service) *AuthController {
	return &AuthController{auth: auth}
}

// RegisterRoutes registers the auth endpoints.
func (c *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", c.handleRegister)
	mux.HandleFunc("/api/auth/login", c.handleLogin)
}

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userData strips the password hash from the wire shape.
func userData(u *model.User) map[string]any {
	return map[string]any{
		"userId":      u.UserID,
		"email":       u.Email,
		"name":        u.Name,
		"role":        u.Role,
		"createdAtMs": u.CreatedAtMs,
	}
}

func (c *AuthController) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req registerReq
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := c.auth.Register(r.Context(), req.Email, req.Password, req.Name, model.Role(req.Role))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, userData(u))
}

func (c *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req loginReq
	if !decodeBody(w, r, &req) {
		return
	}
	u, token, err := c.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userData(u),
	})
}
