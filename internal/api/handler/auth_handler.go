package handler

import (
	"net/http"

	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AuthHandler struct {
	accounts *service.AuthService
	logger   *zap.Logger
}

func NewAuthHandler(accounts *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.signup) // POST /api/v1/auth/signup
	r.Post("/login", h.login)   // POST /api/v1/auth/login
}

func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		h.fail(w, "signup failed", err)
		return
	}
	h.logger.Info("user registered", zap.String("user_id", resp.User.ID), zap.String("username", resp.User.Username))
	common.RespondWithJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

// fail answers with the mapped status; only server-side failures are worth an error log.
func (h *AuthHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := common.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	common.RespondWithError(w, status, err.Error())
}
