package handler

import (
	"context"
	"net/http"
	"strconv"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type Leaderboard interface {
	Top(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	Rebuild(ctx context.Context) (int, error)
}

type LeaderboardHandler struct {
	leaderboard Leaderboard
}

func NewLeaderboardHandler(lb Leaderboard) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboard: lb}
}

func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.top) // GET /api/v1/leaderboard?limit=10

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/rebuild", h.rebuild) // POST /api/v1/leaderboard/rebuild
	})
}

func (h *LeaderboardHandler) top(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.leaderboard.Top(r.Context(), limit)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.leaderboard.Rebuild(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]int{"users": n})
}
