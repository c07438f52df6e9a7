package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenthub/marketplace/internal/service/admin"
	"github.com/agenthub/marketplace/internal/service/categories"
)

func (s *Server) handleAdminCreateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var in struct {
		Name        string `json:"name"`
		Icon        string `json:"icon"`
		Description string `json:"description"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	c, err := s.categories.Create(r.Context(), categories.CreateInput{
		Name:        in.Name,
		Icon:        in.Icon,
		Description: in.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAdminUpdateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var in struct {
		Name        string `json:"name"`
		Icon        string `json:"icon"`
		Description string `json:"description"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	c, err := s.categories.Update(r.Context(), mux.Vars(r)["slug"], categories.CreateInput{
		Name:        in.Name,
		Icon:        in.Icon,
		Description: in.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAdminDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	if err := s.categories.Delete(r.Context(), mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAdminListAgents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	out, err := s.admin.ListAgents(r.Context(), listFilterFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminUpdateAgent(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var in struct {
		Public    *bool   `json:"public"`
		Validated *bool   `json:"validated"`
		Category  *string `json:"category"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.admin.UpdateAgent(r.Context(), mux.Vars(r)["slug"], admin.AgentUpdate{
		Public:    in.Public,
		Validated: in.Validated,
		Category:  in.Category,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	if err := s.admin.DeleteAgent(r.Context(), mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleAdminBulkCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var in struct {
		Category string   `json:"category"`
		Agents   []string `json:"agents"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.admin.BulkCategory(r.Context(), in.Category, in.Agents)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	out, err := s.admin.ListUsers(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var in struct {
		Blocked *bool   `json:"blocked"`
		Role    *string `json:"role"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.admin.UpdateUser(r.Context(), mux.Vars(r)["username"], actorID, admin.UserUpdate{
		Blocked: in.Blocked,
		Role:    in.Role,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAdminSystem(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	stats, err := s.admin.System(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
