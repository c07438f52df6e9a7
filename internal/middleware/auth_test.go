package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

func newTestAuth(t *testing.T) (*AuthMiddleware, *memory.Store, *auth.TokenIssuer) {
	t.Helper()
	store := memory.New()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)
	logger := logging.New("test", "error")
	mw := NewAuthMiddleware(issuer, store, logger,
		[]string{"/health"},
		[]string{"/api/v1/auth/github"},
		[]string{"/api/v1/agents"},
	)
	return mw, store, issuer
}

func okHandler() (http.Handler, *string) {
	var seenUser string
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = logging.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}), &seenUser
}

func TestAuthSkipsConfiguredPaths(t *testing.T) {
	mw, _, _ := newTestAuth(t)
	handler, _ := okHandler()

	for _, path := range []string{"/health", "/api/v1/auth/github/callback"} {
		rec := httptest.NewRecorder()
		mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("path %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthOptionalOnPublicReads(t *testing.T) {
	mw, _, _ := newTestAuth(t)
	handler, seen := okHandler()

	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous read rejected with %d", rec.Code)
	}
	if *seen != "" {
		t.Fatalf("anonymous request carried user %q", *seen)
	}

	rec = httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous write allowed with %d", rec.Code)
	}
}

func TestAuthAcceptsValidJWT(t *testing.T) {
	mw, store, issuer := newTestAuth(t)
	handler, seen := okHandler()

	u, err := store.CreateUser(context.Background(), user.User{
		GitHubID: 1, Username: "alice", Role: user.RoleUser, Active: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := issuer.IssueAccess(u.ID, u.Username)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if *seen != u.ID {
		t.Fatalf("user in context = %q, want %q", *seen, u.ID)
	}
}

func TestAuthRejectsBlockedUser(t *testing.T) {
	mw, store, issuer := newTestAuth(t)
	handler, _ := okHandler()

	u, err := store.CreateUser(context.Background(), user.User{
		GitHubID: 2, Username: "mallory", Role: user.RoleUser, Blocked: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := issuer.IssueAccess(u.ID, u.Username)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthAcceptsPersonalAccessToken(t *testing.T) {
	mw, store, _ := newTestAuth(t)
	handler, seen := okHandler()

	u, err := store.CreateUser(context.Background(), user.User{
		GitHubID: 3, Username: "carol", Role: user.RoleUser,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	secret, hash, err := auth.NewPATSecret()
	if err != nil {
		t.Fatalf("new pat: %v", err)
	}
	tok, err := store.CreateAccessToken(context.Background(), user.AccessToken{
		UserID: u.ID, Name: "cli", TokenHash: hash,
	})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer "+auth.ComposePAT(tok.ID, secret))
	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if *seen != u.ID {
		t.Fatalf("user in context = %q, want %q", *seen, u.ID)
	}

	stored, err := store.GetAccessToken(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Fatal("last_used_at not updated")
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.New("test", "error"))
	handler, _ := okHandler()
	wrapped := rl.Handler(handler)

	var lastCode int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		wrapped.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", lastCode)
	}

	// a different client is unaffected
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	mw := NewCORSMiddleware([]string{"https://agenthub.dev"})
	handler, _ := okHandler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/agents", nil)
	req.Header.Set("Origin", "https://agenthub.dev")
	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://agenthub.dev" {
		t.Fatalf("allow-origin = %q", got)
	}
}
