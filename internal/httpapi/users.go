package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.users.GetProfile(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUserAgents(w http.ResponseWriter, r *http.Request) {
	out, err := s.users.AgentsOf(r.Context(), mux.Vars(r)["username"],
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserStarred(w http.ResponseWriter, r *http.Request) {
	out, err := s.users.StarredBy(r.Context(), mux.Vars(r)["username"],
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
