package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/blobstore"
	"github.com/agenthub/marketplace/internal/cache"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/events"
	"github.com/agenthub/marketplace/internal/github"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/service/admin"
	"github.com/agenthub/marketplace/internal/service/agents"
	"github.com/agenthub/marketplace/internal/service/analytics"
	"github.com/agenthub/marketplace/internal/service/categories"
	"github.com/agenthub/marketplace/internal/service/reviews"
	"github.com/agenthub/marketplace/internal/service/search"
	"github.com/agenthub/marketplace/internal/service/users"
	"github.com/agenthub/marketplace/internal/service/validation"
	"github.com/agenthub/marketplace/internal/storage"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

type fakeGitHub struct{ profile github.User }

func (f *fakeGitHub) AuthorizeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}
func (f *fakeGitHub) ExchangeCode(context.Context, string) (string, error) { return "gh-token", nil }
func (f *fakeGitHub) FetchUser(context.Context, string) (github.User, error) {
	return f.profile, nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type testEnv struct {
	server  *Server
	store   *memory.Store
	handler http.Handler
}

// do runs a request through the router. A non-nil user is injected
// into the context the way the auth middleware does.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, u *user.User, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if u != nil {
		ctx := logging.WithUserID(req.Context(), u.ID)
		ctx = logging.WithRole(ctx, u.Role)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload interface{}, u *user.User) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return e.do(t, method, path, bytes.NewReader(data), u, h)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	logger := logging.New("httpapi-test", "error")
	blobs := blobstore.NewMemory()
	jobs := queue.NewMemory()
	bus := events.NewBus()
	issuer := auth.NewTokenIssuer("test-secret", 30*time.Minute, 168*time.Hour)
	gh := &fakeGitHub{profile: github.User{ID: 42, Login: "alice"}}

	svcs := Services{
		Users:      users.New(store, gh, issuer, logger),
		Agents:     agents.New(store, blobs, jobs, logger, 1<<20),
		Reviews:    reviews.New(store, logger),
		Categories: categories.New(store),
		Search:     search.New(store),
		Analytics:  analytics.New(store, cache.NewMemory(), logger),
		Admin:      admin.New(store, logger),
		Validation: validation.NewService(store, bus),
	}
	server := NewServer(Info{Name: "agent-marketplace", Version: "test", Environment: "test"},
		svcs, logger, map[string]Pinger{"database": okPinger{}})

	return &testEnv{server: server, store: store, handler: server.Router()}
}

func (e *testEnv) seedUser(t *testing.T, username, role string) user.User {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), user.User{
		GitHubID: time.Now().UnixNano(),
		Username: username,
		Role:     role,
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func bundleForm(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("bundle", "bundle.zip")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := fw.Write([]byte("zip-bytes")); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) publishAgent(t *testing.T, owner user.User, name string) string {
	t.Helper()
	body, contentType := bundleForm(t, map[string]string{
		"name":        name,
		"description": "does things",
		"version":     "1.0.0",
	})
	h := http.Header{}
	h.Set("Content-Type", contentType)
	rec := e.do(t, http.MethodPost, "/api/v1/agents", body, &owner, h)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Agent struct {
			Slug string `json:"slug"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.Agent.Slug
}

func TestHealthAndRoot(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "agent-marketplace") {
		t.Fatalf("root = %d, %s", rec.Code, rec.Body.String())
	}
}

func TestPublishAndFetchAgent(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)

	slug := e.publishAgent(t, owner, "Log Summarizer")
	if slug != "log-summarizer" {
		t.Fatalf("slug = %q", slug)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/agents/log-summarizer", nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"versions"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/agents/missing", nil, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing agent = %d", rec.Code)
	}
}

func TestPublishRequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	body, contentType := bundleForm(t, map[string]string{"name": "x", "version": "1.0.0"})
	h := http.Header{}
	h.Set("Content-Type", contentType)

	rec := e.do(t, http.MethodPost, "/api/v1/agents", body, nil, h)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDownloadRedirects(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	slug := e.publishAgent(t, owner, "Helper")

	rec := e.do(t, http.MethodGet, "/api/v1/agents/"+slug+"/download", nil, nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "bundle.zip") {
		t.Fatalf("location = %q", loc)
	}
}

func TestStarConflicts(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	fan := e.seedUser(t, "bob", user.RoleUser)
	slug := e.publishAgent(t, owner, "Helper")

	if rec := e.do(t, http.MethodPost, "/api/v1/agents/"+slug+"/star", nil, &fan, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("star = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/v1/agents/"+slug+"/star", nil, &fan, nil); rec.Code != http.StatusConflict {
		t.Fatalf("double star = %d, want 409", rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/agents/"+slug, nil, &fan, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"starred_by_me":true`) {
		t.Fatalf("detail as fan = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodGet, "/api/v1/agents/"+slug, nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"starred_by_me":false`) {
		t.Fatalf("anonymous detail = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := e.do(t, http.MethodDelete, "/api/v1/agents/"+slug+"/star", nil, &fan, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unstar = %d", rec.Code)
	}
}

func TestReviewFlow(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	rater := e.seedUser(t, "bob", user.RoleUser)
	slug := e.publishAgent(t, owner, "Helper")

	rec := e.doJSON(t, http.MethodPost, "/api/v1/agents/"+slug+"/reviews",
		map[string]interface{}{"rating": 5, "comment": "great"}, &rater)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create review = %d, body %s", rec.Code, rec.Body.String())
	}

	// Authors cannot review their own agent.
	rec = e.doJSON(t, http.MethodPost, "/api/v1/agents/"+slug+"/reviews",
		map[string]interface{}{"rating": 5}, &owner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("own review = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/agents/"+slug+"/reviews", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "great") {
		t.Fatalf("list = %d, %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"average_rating":5`) ||
		!strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("rating summary missing: %s", rec.Body.String())
	}
}

func TestValidationStatus(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	slug := e.publishAgent(t, owner, "Helper")

	rec := e.do(t, http.MethodGet, "/api/v1/agents/"+slug+"/validation", nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pending"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSearchAndAnalytics(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	e.publishAgent(t, owner, "Log Summarizer")

	rec := e.do(t, http.MethodGet, "/api/v1/search?q=log", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "log-summarizer") {
		t.Fatalf("search = %d, %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/search?q=", nil, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank search = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/stats", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_agents":1`) {
		t.Fatalf("stats = %d, %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/trending?timeframe=day", nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trending = %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/trending?timeframe=decade", nil, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timeframe = %d, want 400", rec.Code)
	}
}

func TestAdminRequiresRole(t *testing.T) {
	e := newTestEnv(t)
	pleb := e.seedUser(t, "bob", user.RoleUser)
	root := e.seedUser(t, "root", user.RoleAdmin)

	rec := e.doJSON(t, http.MethodPost, "/api/v1/admin/categories",
		map[string]string{"name": "DevOps"}, &pleb)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin = %d, want 403", rec.Code)
	}

	rec = e.doJSON(t, http.MethodPost, "/api/v1/admin/categories",
		map[string]string{"name": "DevOps"}, &root)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create = %d, body %s", rec.Code, rec.Body.String())
	}

	// Duplicate category.
	rec = e.doJSON(t, http.MethodPost, "/api/v1/admin/categories",
		map[string]string{"name": "DevOps"}, &root)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d, want 409", rec.Code)
	}
}

func TestAdminUserModeration(t *testing.T) {
	e := newTestEnv(t)
	root := e.seedUser(t, "root", user.RoleAdmin)
	target := e.seedUser(t, "bob", user.RoleUser)

	blocked := true
	rec := e.doJSON(t, http.MethodPut, "/api/v1/admin/users/"+target.Username,
		map[string]interface{}{"blocked": blocked}, &root)
	if rec.Code != http.StatusOK {
		t.Fatalf("block = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := e.store.GetUser(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !got.Blocked {
		t.Fatal("user must be blocked")
	}
}

func TestAuthLoginAndMe(t *testing.T) {
	e := newTestEnv(t)

	rec := e.doJSON(t, http.MethodPost, "/api/v1/auth/github", map[string]string{"code": "abc"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, body %s", rec.Code, rec.Body.String())
	}
	var res struct {
		User user.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.User.Username != "alice" {
		t.Fatalf("user = %+v", res.User)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, &res.User, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("me = %d, %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me = %d, want 401", rec.Code)
	}
}

func TestGitHubRedirect(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/auth/github?state=xyz", nil, nil, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "state=xyz") {
		t.Fatalf("location = %q", loc)
	}
}

// flakyStore simulates a database outage on agent listing.
type flakyStore struct {
	storage.Store
}

func (f *flakyStore) ListAgents(context.Context, agent.ListFilter) ([]agent.Agent, error) {
	return nil, fmt.Errorf("connection reset by peer")
}

func TestStoreFailureReturnsInternalError(t *testing.T) {
	store := memory.New()
	if _, err := store.CreateUser(context.Background(), user.User{
		GitHubID: 7, Username: "alice", Role: user.RoleUser, Active: true,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	logger := logging.New("httpapi-test", "error")
	issuer := auth.NewTokenIssuer("test-secret", 30*time.Minute, 168*time.Hour)
	svcs := Services{
		Users: users.New(&flakyStore{Store: store}, &fakeGitHub{}, issuer, logger),
	}
	server := NewServer(Info{Name: "agent-marketplace"}, svcs, logger, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/alice/agents", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWriteErrorHandlesUnclassifiedErrors(t *testing.T) {
	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	e.server.writeError(rec, fmt.Errorf("plain failure"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestUserProfileEndpoints(t *testing.T) {
	e := newTestEnv(t)
	owner := e.seedUser(t, "alice", user.RoleUser)
	e.publishAgent(t, owner, "Helper")

	rec := e.do(t, http.MethodGet, "/api/v1/users/alice", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"stats"`) {
		t.Fatalf("profile = %d, %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/users/alice/agents", nil, nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "helper") {
		t.Fatalf("agents = %d, %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%s/starred", "alice"), nil, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("starred = %d", rec.Code)
	}
}
