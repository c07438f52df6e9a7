package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     s.info.Name,
		"version":     s.info.Version,
		"environment": s.info.Environment,
		"docs":        "/api/v1",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.deps))
	for name, p := range s.deps {
		if err := p.Ping(ctx); err != nil {
			deps[name] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":       overall,
		"version":      s.info.Version,
		"environment":  s.info.Environment,
		"dependencies": deps,
	})
}
