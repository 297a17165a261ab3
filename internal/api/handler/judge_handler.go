package handler

import (
	"context"
	"errors"
	"net/http"

	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Judge is the judging surface the handler needs.
type Judge interface {
	Submit(ctx context.Context, userID string, req service.SubmitRequest) (*service.JudgeResponse, error)
	Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResponse, error)
	TestJudge(ctx context.Context) (*service.ProbeResult, error)
}

type JudgeHandler struct {
	judge  Judge
	logger *zap.Logger
}

func NewJudgeHandler(judge Judge, logger *zap.Logger) *JudgeHandler {
	return &JudgeHandler{judge: judge, logger: logger}
}

func (h *JudgeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/test-judge", h.testJudge) // GET /api/v1/judge/test-judge

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.Authenticator)
		authed.Post("/submit", h.submit)   // POST /api/v1/judge/submit
		authed.Post("/execute", h.execute) // POST /api/v1/judge/execute (dry run)
	})
}

// scoringFailure carries the verdict alongside the error when XP could not be recorded.
type scoringFailure struct {
	Error  string                 `json:"error"`
	Result *service.JudgeResponse `json:"result"`
}

func (h *JudgeHandler) submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.judge.Submit(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, common.ErrClientGone) {
			h.logger.Debug("submit abandoned by client", zap.String("user_id", userID))
			w.WriteHeader(common.HTTPStatusFromError(err))
			return
		}
		if resp != nil {
			common.RespondWithJSON(w, common.HTTPStatusFromError(err), scoringFailure{Error: err.Error(), Result: resp})
			return
		}
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *JudgeHandler) execute(w http.ResponseWriter, r *http.Request) {
	var req service.ExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.judge.Execute(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *JudgeHandler) testJudge(w http.ResponseWriter, r *http.Request) {
	resp, err := h.judge.TestJudge(r.Context())
	if err != nil {
		h.logger.Warn("sandbox probe failed", zap.Error(err))
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}
