// Package httpapi exposes the marketplace REST and websocket API.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/service/admin"
	"github.com/agenthub/marketplace/internal/service/agents"
	"github.com/agenthub/marketplace/internal/service/analytics"
	"github.com/agenthub/marketplace/internal/service/categories"
	"github.com/agenthub/marketplace/internal/service/reviews"
	"github.com/agenthub/marketplace/internal/service/search"
	"github.com/agenthub/marketplace/internal/service/users"
	"github.com/agenthub/marketplace/internal/service/validation"
)

const maxJSONBody = 1 << 20

// Pinger reports the liveness of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Info identifies the service in the health and root endpoints.
type Info struct {
	Name        string
	Version     string
	Environment string
}

// Server holds the handler dependencies.
type Server struct {
	info       Info
	users      *users.Service
	agents     *agents.Service
	reviews    *reviews.Service
	categories *categories.Service
	search     *search.Service
	analytics  *analytics.Service
	admin      *admin.Service
	validation *validation.Service
	logger     *logging.Logger
	deps       map[string]Pinger
	upgrader   websocket.Upgrader
}

// Services bundles the handler dependencies for NewServer.
type Services struct {
	Users      *users.Service
	Agents     *agents.Service
	Reviews    *reviews.Service
	Categories *categories.Service
	Search     *search.Service
	Analytics  *analytics.Service
	Admin      *admin.Service
	Validation *validation.Service
}

// NewServer creates the API server. deps maps dependency names to
// their health pingers.
func NewServer(info Info, svcs Services, logger *logging.Logger, deps map[string]Pinger) *Server {
	return &Server{
		info:       info,
		users:      svcs.Users,
		agents:     svcs.Agents,
		reviews:    svcs.Reviews,
		categories: svcs.Categories,
		search:     svcs.Search,
		analytics:  svcs.Analytics,
		admin:      svcs.Admin,
		validation: svcs.Validation,
		logger:     logger,
		deps:       deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		s.logger.WithError(err).Error("Unclassified error reached the API layer")
		serviceErr = errors.GetServiceError(errors.Internal("internal error", err))
	}
	s.writeJSON(w, serviceErr.HTTPStatus, map[string]interface{}{"error": serviceErr})
}

// decodeJSON reads a bounded JSON body into dst. It writes the error
// response itself and reports success.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			s.writeError(w, errors.InvalidInput("request body is required"))
			return false
		}
		s.writeError(w, errors.InvalidInput("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// currentUserID returns the authenticated user, empty for anonymous
// requests on optional-auth routes.
func currentUserID(r *http.Request) string {
	return logging.GetUserID(r.Context())
}

// requireUser writes a 401 when the request is anonymous.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := currentUserID(r)
	if id == "" {
		s.writeError(w, errors.Unauthorized("Authentication required"))
		return "", false
	}
	return id, true
}

// requireAdmin writes a 403 unless the caller has the admin role.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := s.requireUser(w, r)
	if !ok {
		return "", false
	}
	if logging.GetRole(r.Context()) != user.RoleAdmin {
		s.writeError(w, errors.Forbidden("Admin role required"))
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryFloat(r *http.Request, key string) float64 {
	f, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil {
		return 0
	}
	return f
}
