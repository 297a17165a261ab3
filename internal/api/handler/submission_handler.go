package handler

import (
	"net/http"
	"strconv"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type SubmissionHandler struct {
	submissionService *service.SubmissionService
}

func NewSubmissionHandler(ss *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.Get("/", h.history)           // GET /api/v1/submissions?problem_id=...
}

func (h *SubmissionHandler) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}
	problemID := r.URL.Query().Get("problem_id")
	if problemID == "" {
		common.RespondWithError(w, http.StatusBadRequest, "problem_id is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	subs, total, err := h.submissionService.History(r.Context(), userID, problemID, page, pageSize)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, struct {
		Submissions []model.Submission `json:"submissions"`
		Total       int                `json:"total"`
		Page        int                `json:"page"`
	}{Submissions: subs, Total: total, Page: page})
}
