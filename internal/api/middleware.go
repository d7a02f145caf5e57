package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type contextKey string

const (
	ctxKeyClaim    contextKey = "claim"    // *auth.TokenClaim of a verified bearer
	ctxKeyIdentity contextKey = "identity" // auth.Identity resolved by require
)

// maxRequestBodySize caps request bodies at 1 MiB.
const maxRequestBodySize = 1 << 20

// echoRequestID returns the request ID assigned by middleware.RequestID in
// the X-Request-ID response header.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one entry per request once the handler returns.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoveryMiddleware turns a handler panic into a JSON 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // net/http re-panics with this exact value
				panic(rec)
			}
			s.logger.Error("handler panicked",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and decorates responses for allowed
// origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	methods := listOr(s.cfg.CORS.AllowedMethods, "GET, POST, DELETE, OPTIONS")
	headers := listOr(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerMiddleware extracts the session claim from an Authorization: Bearer
// header. The envelope must verify and the {uuid, token} pair inside it must
// still be the current session; anything else leaves the request
// unauthenticated rather than rejecting it, so public routes keep working
// with a stale token.
func (s *Server) bearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claim, err := auth.ParseBearer(raw, s.secCfg.JWT.Secret)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		valid, err := s.sessions.Validate(r.Context(), claim.UUID, claim.Token)
		if err != nil {
			s.writeAuthError(w, r, err)
			return
		}
		if !valid {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaim, &claim)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require guards a route with a permission template. For routes carrying a
// {uuid} parameter, a token caller may only act on its own UUID.
func (s *Server) require(t auth.Template) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := s.access(r, t)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}

			if !auth.Permit(t, access) {
				if t == auth.TemplateLocal {
					writeForbidden(w, "operation is restricted to local callers")
				} else {
					writeUnauthorized(w, "authentication required")
				}
				return
			}

			if t != auth.TemplateLocal && access.Identity.Type == auth.IdentityToken {
				if target := chi.URLParam(r, "uuid"); target != "" && target != access.Identity.UUID {
					writeForbidden(w, "token does not belong to this user")
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, access.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// access describes the caller for template t. The local template needs only
// the source address.
func (s *Server) access(r *http.Request, t auth.Template) (auth.Access, error) {
	a := auth.Access{Local: auth.IsLoopback(r.RemoteAddr)}
	if t == auth.TemplateLocal || t == auth.TemplateAny {
		return a, nil
	}

	multiuser, err := s.mode.IsEnabled(r.Context())
	if err != nil {
		return a, err
	}
	a.Multiuser = multiuser

	id, err := s.resolver.Resolve(r.Context(), "", claimFrom(r))
	if err != nil {
		return a, err
	}
	a.Identity = id
	return a, nil
}

// bearerToken returns the credentials of an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// claimFrom returns the validated session claim, or nil.
func claimFrom(r *http.Request) *auth.TokenClaim {
	claim, _ := r.Context().Value(ctxKeyClaim).(*auth.TokenClaim)
	return claim
}

// identityFrom returns the identity resolved by require.
func identityFrom(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(ctxKeyIdentity).(auth.Identity)
	return id
}

// originAllowed reports whether origin is configured. No configured
// origins means any origin.
func (s *Server) originAllowed(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	return len(allowed) == 0 || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func listOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}
