package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// addUserRequest is the body of POST /user.
type addUserRequest struct {
	Email string `json:"email"`
}

// handleListUsers returns every user record.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.creds.List(r.Context())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleAddUser creates a password-less user, or returns the existing UUID.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := s.creds.Add(r.Context(), req.Email)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"uuid": id})
}

// handleDeleteUser removes a user and their session.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.creds.Delete(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMultiuserStatus reports whether multiuser mode is enabled.
func (s *Server) handleMultiuserStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.mode.IsEnabled(r.Context())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

// handleMultiuserEnable installs the core credential and enables multiuser mode.
func (s *Server) handleMultiuserEnable(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.mode.Enable(r.Context(), req.Email, req.Password); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// handleMultiuserDisable switches back to single-user mode.
func (s *Server) handleMultiuserDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.mode.Disable(r.Context(), r.RemoteAddr); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}
