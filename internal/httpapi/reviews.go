package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/service/reviews"
)

type reviewBody struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	out, err := s.reviews.List(r.Context(), mux.Vars(r)["slug"],
		r.URL.Query().Get("sort"),
		queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in reviewBody
	if !s.decodeJSON(w, r, &in) {
		return
	}
	created, err := s.reviews.Create(r.Context(), mux.Vars(r)["slug"], userID, reviews.CreateInput{
		Rating:  in.Rating,
		Comment: in.Comment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in reviewBody
	if !s.decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.reviews.Update(r.Context(), mux.Vars(r)["id"], userID, reviews.CreateInput{
		Rating:  in.Rating,
		Comment: in.Comment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	admin := logging.GetRole(r.Context()) == user.RoleAdmin
	if err := s.reviews.Delete(r.Context(), mux.Vars(r)["id"], userID, admin); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMarkHelpful(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	updated, err := s.reviews.MarkHelpful(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}
