package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agenthub/marketplace/internal/metrics"
)

// Router builds the full route table. Authentication and the other
// middleware wrap the returned handler in cmd/server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth.
	api.HandleFunc("/auth/github", s.handleGitHubRedirect).Methods(http.MethodGet)
	api.HandleFunc("/auth/github/callback", s.handleGitHubCallback).Methods(http.MethodGet)
	api.HandleFunc("/auth/github", s.handleGitHubLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/auth/tokens", s.handleListTokens).Methods(http.MethodGet)
	api.HandleFunc("/auth/tokens", s.handleCreateToken).Methods(http.MethodPost)
	api.HandleFunc("/auth/tokens/{id}", s.handleDeleteToken).Methods(http.MethodDelete)

	// Agents.
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents", s.handlePublishAgent).Methods(http.MethodPost)
	api.HandleFunc("/agents/{slug}", s.handleGetAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}", s.handleUpdateAgent).Methods(http.MethodPut)
	api.HandleFunc("/agents/{slug}", s.handleDeleteAgent).Methods(http.MethodDelete)
	api.HandleFunc("/agents/{slug}/versions", s.handlePublishVersion).Methods(http.MethodPost)
	api.HandleFunc("/agents/{slug}/download", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/download/{version}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/presigned-upload", s.handleUploadURL).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/star", s.handleStar).Methods(http.MethodPost)
	api.HandleFunc("/agents/{slug}/star", s.handleUnstar).Methods(http.MethodDelete)
	api.HandleFunc("/agents/{slug}/validation", s.handleValidationStatus).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/validation/ws", s.handleValidationWS).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/reviews", s.handleListReviews).Methods(http.MethodGet)
	api.HandleFunc("/agents/{slug}/reviews", s.handleCreateReview).Methods(http.MethodPost)

	// Reviews.
	api.HandleFunc("/reviews/{id}", s.handleUpdateReview).Methods(http.MethodPut)
	api.HandleFunc("/reviews/{id}", s.handleDeleteReview).Methods(http.MethodDelete)
	api.HandleFunc("/reviews/{id}/helpful", s.handleMarkHelpful).Methods(http.MethodPost)

	// Users.
	api.HandleFunc("/users/{username}", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/{username}/agents", s.handleUserAgents).Methods(http.MethodGet)
	api.HandleFunc("/users/{username}/starred", s.handleUserStarred).Methods(http.MethodGet)

	// Categories.
	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/{slug}", s.handleGetCategory).Methods(http.MethodGet)
	api.HandleFunc("/categories/{slug}/agents", s.handleCategoryAgents).Methods(http.MethodGet)

	// Search.
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/search/agents", s.handleSearchAgents).Methods(http.MethodGet)
	api.HandleFunc("/search/suggestions", s.handleSuggest).Methods(http.MethodGet)

	// Analytics.
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/trending", s.handleTrending).Methods(http.MethodGet)
	api.HandleFunc("/popular", s.handlePopular).Methods(http.MethodGet)

	// Admin.
	api.HandleFunc("/admin/categories", s.handleAdminCreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/admin/categories/{slug}", s.handleAdminUpdateCategory).Methods(http.MethodPut)
	api.HandleFunc("/admin/categories/{slug}", s.handleAdminDeleteCategory).Methods(http.MethodDelete)
	api.HandleFunc("/admin/agents", s.handleAdminListAgents).Methods(http.MethodGet)
	api.HandleFunc("/admin/agents/bulk-category", s.handleAdminBulkCategory).Methods(http.MethodPost)
	api.HandleFunc("/admin/agents/{slug}", s.handleAdminUpdateAgent).Methods(http.MethodPut)
	api.HandleFunc("/admin/agents/{slug}", s.handleAdminDeleteAgent).Methods(http.MethodDelete)
	api.HandleFunc("/admin/users", s.handleAdminListUsers).Methods(http.MethodGet)
	api.HandleFunc("/admin/users/{username}", s.handleAdminUpdateUser).Methods(http.MethodPut)
	api.HandleFunc("/admin/system", s.handleAdminSystem).Methods(http.MethodGet)

	return r
}

// PublicPaths are served without authentication.
func PublicPaths() []string {
	return []string{"/", "/health", "/metrics"}
}

// PublicPrefixes are served without authentication.
func PublicPrefixes() []string {
	return []string{
		"/api/v1/auth/github",
		"/api/v1/auth/refresh",
	}
}

// OptionalAuthPrefixes get best-effort authentication on reads so
// anonymous browsing works.
func OptionalAuthPrefixes() []string {
	return []string{
		"/api/v1/agents",
		"/api/v1/users",
		"/api/v1/categories",
		"/api/v1/search",
		"/api/v1/stats",
		"/api/v1/trending",
		"/api/v1/popular",
	}
}
