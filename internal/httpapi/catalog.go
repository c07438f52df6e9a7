package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	out, err := s.categories.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.categories.Get(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCategoryAgents(w http.ResponseWriter, r *http.Request) {
	c, err := s.categories.Get(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := listFilterFromQuery(r)
	filter.Category = c.Slug
	out, err := s.agents.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.search.Global(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// type narrows the result without changing the query semantics.
	switch r.URL.Query().Get("type") {
	case "agents":
		res.Users = nil
	case "users":
		res.Agents = nil
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearchAgents(w http.ResponseWriter, r *http.Request) {
	out, err := s.search.Agents(r.Context(), listFilterFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	out, err := s.search.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.Trending(r.Context(), r.URL.Query().Get("timeframe"), queryInt(r, "limit", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.Popular(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
