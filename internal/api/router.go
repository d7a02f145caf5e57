package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, echoRequestID)
	r.Use(s.loggingMiddleware, s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	local := s.require(auth.TemplateLocal)
	token := s.require(auth.TemplateToken)
	normal := s.require(auth.TemplateNormal)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.bearerMiddleware)

		r.Get("/health", s.handleHealth)

		r.Route("/user", func(r chi.Router) {
			// Mode switch
			r.Get("/multiuser", s.handleMultiuserStatus)
			r.With(local).Post("/multiuser/enable", s.handleMultiuserEnable)
			r.With(local).Post("/multiuser/disable", s.handleMultiuserDisable)

			// Credentials
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.With(token).Post("/logout", s.handleLogout)

			// Local administration
			r.With(local).Get("/", s.handleListUsers)
			r.With(local).Post("/", s.handleAddUser)

			r.Route("/{uuid}", func(r chi.Router) {
				r.With(local).Delete("/", s.handleDeleteUser)
				r.With(token).Post("/password", s.handleChangePassword)
				r.With(local).Post("/reset", s.handleResetPassword)

				r.Route("/2fa", func(r chi.Router) {
					r.Use(token)
					r.Get("/", s.handleSecondFactorStatus)
					r.Post("/enroll", s.handleSecondFactorEnroll)
					r.Post("/enable", s.handleSecondFactorEnable)
					r.Post("/disable", s.handleSecondFactorDisable)
					r.Post("/verify", s.handleSecondFactorVerify)
				})

				r.With(normal).Post("/log", s.handleAuditLog)
				r.With(normal).Get("/log/tail", s.handleAuditTail)
			})
		})
	})

	return r
}

// handleHealth returns the server health status and the current mode.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.database != nil {
		if err := s.database.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unavailable"
		} else {
			body["database"] = "ok"
		}
	}

	if multiuser, err := s.mode.IsEnabled(r.Context()); err == nil {
		body["multiuser"] = multiuser
	}

	writeJSON(w, status, body)
}
