package httpapi

import (
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/service/agents"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	out, err := s.agents.List(r.Context(), listFilterFromQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func listFilterFromQuery(r *http.Request) agent.ListFilter {
	q := r.URL.Query()
	return agent.ListFilter{
		Category:  q.Get("category"),
		Query:     q.Get("q"),
		MinRating: queryFloat(r, "min_rating"),
		Sort:      q.Get("sort"),
		Limit:     queryInt(r, "limit", 20),
		Offset:    queryInt(r, "offset", 0),
	}
}

// handlePublishAgent accepts a multipart form: metadata fields plus the
// bundle file. The agent is accepted for validation, hence 202.
func (s *Server) handlePublishAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	file, header, form, ok := s.parseBundleForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	detail, err := s.agents.Publish(r.Context(), agents.PublishInput{
		Name:        form("name"),
		Description: form("description"),
		Category:    form("category"),
		Version:     form("version"),
		Changelog:   form("changelog"),
		Bundle:      file,
		BundleSize:  header.Size,
		AuthorID:    userID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, detail)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	detail, err := s.agents.Get(r.Context(), mux.Vars(r)["slug"], currentUserID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Description *string `json:"description"`
		Public      *bool   `json:"public"`
		Category    *string `json:"category"`
	}
	if !s.decodeJSON(w, r, &in) {
		return
	}
	updated, err := s.agents.Update(r.Context(), mux.Vars(r)["slug"], userID, agents.UpdateInput{
		Description: in.Description,
		Public:      in.Public,
		Category:    in.Category,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.agents.Delete(r.Context(), mux.Vars(r)["slug"], userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	file, header, form, ok := s.parseBundleForm(w, r)
	if !ok {
		return
	}
	defer file.Close()

	v, err := s.agents.PublishVersion(r.Context(), mux.Vars(r)["slug"], userID, agents.PublishVersionInput{
		Version:    form("version"),
		Changelog:  form("changelog"),
		Bundle:     file,
		BundleSize: header.Size,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, v)
}

// handleDownload redirects to a presigned bundle URL. The version may be
// given as a path segment or query parameter; empty means current.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]
	if version == "" {
		version = r.URL.Query().Get("version")
	}
	u, err := s.agents.DownloadURL(r.Context(), mux.Vars(r)["slug"], version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	u, err := s.agents.PresignedUpload(r.Context(), mux.Vars(r)["slug"], userID, r.URL.Query().Get("version"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"upload_url": u.String()})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.agents.Star(r.Context(), mux.Vars(r)["slug"], userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleUnstar(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if err := s.agents.Unstar(r.Context(), mux.Vars(r)["slug"], userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleValidationStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.agents.LatestValidation(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleValidationWS streams live validation events for an agent until
// the client disconnects.
func (s *Server) handleValidationWS(w http.ResponseWriter, r *http.Request) {
	detail, err := s.agents.Get(r.Context(), mux.Vars(r)["slug"], "")
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.validation.Watch(detail.Agent.ID)
	defer cancel()

	// Reader goroutine detects client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// parseBundleForm reads the multipart publish form and returns the
// bundle file, its header and a form-value accessor.
func (s *Server) parseBundleForm(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, func(string) string, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, errors.InvalidInput("expected a multipart form: "+err.Error()))
		return nil, nil, nil, false
	}
	file, header, err := r.FormFile("bundle")
	if err != nil {
		s.writeError(w, errors.InvalidInput("bundle file is required"))
		return nil, nil, nil, false
	}
	return file, header, r.FormValue, true
}
