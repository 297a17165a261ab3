package api

import (
	"net/http"
	"time"

	"tle_zone_judge/internal/api/handler"
	"tle_zone_judge/internal/api/middleware"
	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/common/security"
	"tle_zone_judge/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"
)

type Services struct {
	Auth        *service.AuthService
	Problem     *service.ProblemService
	Submission  *service.SubmissionService
	Judge       handler.Judge
	Leaderboard handler.Leaderboard
}

func NewRouter(svc Services, tokens *security.TokenIssuer, m *metrics.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Searches "Authorization: Bearer T" and stores the verified token in context.
	r.Use(jwtauth.Verifier(tokens.JWTAuth()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/api/v1", func(v1 chi.Router) {
		if svc.Auth != nil {
			v1.Route("/auth", handler.NewAuthHandler(svc.Auth, logger).RegisterRoutes)
		}
		if svc.Problem != nil {
			v1.Route("/problems", handler.NewProblemHandler(svc.Problem).RegisterRoutes)
		}
		if svc.Submission != nil {
			v1.Route("/submissions", handler.NewSubmissionHandler(svc.Submission).RegisterRoutes)
		}
		if svc.Judge != nil {
			v1.Route("/judge", handler.NewJudgeHandler(svc.Judge, logger).RegisterRoutes)
		}
		if svc.Leaderboard != nil {
			v1.Route("/leaderboard", handler.NewLeaderboardHandler(svc.Leaderboard).RegisterRoutes)
		}
	})

	return r
}
