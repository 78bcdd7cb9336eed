package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/islandgame/internal/api/apierr"
	"github.com/mcoot/islandgame/internal/api/middleware"
	"github.com/mcoot/islandgame/internal/api/request"
	"github.com/mcoot/islandgame/internal/api/response"
	"github.com/mcoot/islandgame/internal/services/auth"
	"github.com/mcoot/islandgame/internal/services/profile"
)

// UserHandler handles account and profile endpoints
type UserHandler struct {
	authService    *auth.Service
	profileService *profile.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(authService *auth.Service, profileService *profile.Service) *UserHandler {
	return &UserHandler{
		authService:    authService,
		profileService: profileService,
	}
}

// SignUp handles POST /api/v1/users/signup
func (h *UserHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req request.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Password == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("password is required"))
		return
	}

	user, session, err := h.authService.SignUp(r.Context(), req.Name, req.Password, req.AvatarURL)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.NewAuthResponse(user, session))
}

// Login handles POST /api/v1/users/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Name == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("name is required"))
		return
	}
	if req.Password == "" {
		apierr.WriteError(w, apierr.NewInvalidRequestError("password is required"))
		return
	}

	user, session, err := h.authService.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.NewAuthResponse(user, session))
}

// Logout handles POST /api/v1/users/logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authService.Logout(middleware.GetToken(r.Context()))
	response.NoContent(w)
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	response.JSON(w, http.StatusOK, response.UserFromModel(user))
}

// Rename handles PUT /api/v1/users/me/name
func (h *UserHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	var req request.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("invalid request body"))
		return
	}

	updated, err := h.profileService.Rename(r.Context(), user.ID, req.Name)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.UserFromModel(updated))
}

// History handles GET /api/v1/users/me/games
func (h *UserHandler) History(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())

	entries, err := h.profileService.History(r.Context(), user.ID)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.HistoryFromEntries(user.ID, entries))
}
