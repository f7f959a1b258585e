package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/visitor"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/validator"
)

// AuthHandler serves the session endpoints of the storefront.
type AuthHandler struct {
	registry *visitor.Registry
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(registry *visitor.Registry, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{registry: registry, logger: logger}
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse is the public view of a visitor's session. Tokens never
// leave the edge.
type SessionResponse struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"is_authenticated"`
	IsLoading       bool         `json:"is_loading"`
}

func toSessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{User: s.User, IsAuthenticated: s.IsAuthenticated, IsLoading: s.IsLoading}
}

// Login handles POST /auth/login. A successful login moves the visitor to a
// freshly issued visitor ID.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	bound, ok := sessionFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Internal(errNoClient), h.logger)
		return
	}

	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	current, _ := bound.get()
	client, err := h.registry.Login(r.Context(), current, req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	bound.rebind(client)

	snap, err := client.Session(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, toSessionResponse(snap))
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Internal(errNoClient), h.logger)
		return
	}
	client.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	client, ok := ClientFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Internal(errNoClient), h.logger)
		return
	}
	snap, err := client.Session(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, toSessionResponse(snap))
}
