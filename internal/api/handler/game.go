package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/islandgame/internal/api/apierr"
	"github.com/mcoot/islandgame/internal/api/middleware"
	"github.com/mcoot/islandgame/internal/api/response"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/profile"
)

// GameHandler handles game and ranking endpoints
type GameHandler struct {
	profileService *profile.Service
}

// NewGameHandler creates a new game handler
func NewGameHandler(profileService *profile.Service) *GameHandler {
	return &GameHandler{profileService: profileService}
}

// Get handles GET /api/v1/games/{id}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.MustGetUser(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	view, err := h.profileService.GameDetails(r.Context(), gameID, user.ID)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameFromView(user.ID, view))
}

// Leaderboard handles GET /api/v1/leaderboard
func (h *GameHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			apierr.WriteError(w, apierr.NewInvalidRequestError("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	users, err := h.profileService.Leaderboard(r.Context(), limit)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardFromUsers(users))
}
