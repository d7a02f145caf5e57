package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// credentialsRequest is the body of register, login and multiuser enable.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// loginResponse carries the session pair and its bearer envelope.
type loginResponse struct {
	UUID        string `json:"uuid"`
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"` // unix milliseconds
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// changePasswordRequest is the body of POST /user/{uuid}/password.
type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// resetPasswordRequest is the body of POST /user/{uuid}/reset.
type resetPasswordRequest struct {
	Password string `json:"password"`
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// handleRegister creates a user with a password.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.creds.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// handleLogin verifies credentials and returns a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.creds.Login(r.Context(), auth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		Code:       req.Code,
		SourceAddr: r.RemoteAddr,
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	signed, err := auth.SignBearer(session, s.secCfg.JWT.Secret)
	if err != nil {
		s.logger.Error("failed to sign bearer token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		UUID:        session.UUID,
		Token:       session.Token,
		Expiry:      session.ExpiresAt.UnixMilli(),
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(session.ExpiresAt).Seconds()),
	})
}

// handleLogout revokes the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claim := claimFrom(r)
	if claim == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if err := s.creds.Logout(r.Context(), *claim); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword replaces the caller's password.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.creds.ChangePassword(r.Context(), "", claimFrom(r), req.OldPassword, req.NewPassword); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleResetPassword overwrites a user's password from the local host.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := s.creds.Get(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	if err := s.creds.ResetPassword(r.Context(), r.RemoteAddr, user.Email, req.Password); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
