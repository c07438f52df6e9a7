package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
)

// handleGitHubRedirect sends the browser to the GitHub consent page.
func (s *Server) handleGitHubRedirect(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = logging.NewTraceID()
	}
	http.Redirect(w, r, s.users.AuthorizeURL(state), http.StatusFound)
}

// handleGitHubCallback finishes the browser OAuth flow.
func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	res, err := s.users.Login(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleGitHubLogin exchanges a code sent by a non-browser client.
func (s *Server) handleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	res, err := s.users.Login(r.Context(), in.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	if in.RefreshToken == "" {
		s.writeError(w, errors.InvalidInput("refresh_token is required"))
		return
	}
	access, err := s.users.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"access_token": access,
		"token_type":   "bearer",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	u, err := s.users.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	tokens, err := s.users.ListTokens(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	issued, err := s.users.CreateToken(r.Context(), userID, in.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.users.DeleteToken(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
