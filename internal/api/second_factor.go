package api

import (
	"net/http"
)

// secondFactorRequest is the body of the 2fa enable, disable and verify routes.
// Secret is only read by enable.
type secondFactorRequest struct {
	Secret string `json:"secret,omitempty"`
	Code   string `json:"code"`
}

// handleSecondFactorStatus reports whether the caller has a second factor.
// The secret itself is never returned.
func (s *Server) handleSecondFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.factor.Status(r.Context(), identityFrom(r).UUID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// handleSecondFactorEnroll generates a secret and QR code for the caller.
// Nothing is stored until enable confirms a code.
func (s *Server) handleSecondFactorEnroll(w http.ResponseWriter, r *http.Request) {
	user, err := s.creds.Get(r.Context(), identityFrom(r).UUID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	enrollment, err := s.factor.Enroll(user.Email)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

// handleSecondFactorEnable stores the enrolled secret once a code verifies.
func (s *Server) handleSecondFactorEnable(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.factor.Enable(r.Context(), identityFrom(r).UUID, req.Secret, req.Code); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// handleSecondFactorDisable clears the caller's second factor.
func (s *Server) handleSecondFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.factor.Disable(r.Context(), identityFrom(r).UUID, req.Code); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

// handleSecondFactorVerify checks a code against the caller's enrolled secret.
func (s *Server) handleSecondFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req secondFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ok, err := s.factor.VerifyForUser(r.Context(), identityFrom(r).UUID, req.Code)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}
