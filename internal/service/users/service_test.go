package users

import (
	"context"
	"testing"
	"time"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/github"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage/memory"
)

// fakeGitHub exchanges any non-empty code for a token and returns a
// fixed profile.
type fakeGitHub struct {
	profile     github.User
	exchangeErr error
}

func (f *fakeGitHub) AuthorizeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) ExchangeCode(_ context.Context, code string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return "gh-token-" + code, nil
}

func (f *fakeGitHub) FetchUser(_ context.Context, _ string) (github.User, error) {
	return f.profile, nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeGitHub) {
	t.Helper()
	store := memory.New()
	gh := &fakeGitHub{profile: github.User{
		ID:        42,
		Login:     "alice",
		Email:     "alice@example.com",
		AvatarURL: "https://avatars.example.com/alice",
	}}
	issuer := auth.NewTokenIssuer("test-secret", 30*time.Minute, 168*time.Hour)
	svc := New(store, gh, issuer, logging.New("users-test", "error"))
	return svc, store, gh
}

func TestLoginCreatesAndUpdatesAccount(t *testing.T) {
	svc, store, gh := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.Username != "alice" || res.User.GitHubID != 42 {
		t.Fatalf("user = %+v", res.User)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("token pair must be issued")
	}

	// A second login with a changed profile updates the same account.
	gh.profile.Login = "alice-renamed"
	again, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.User.ID != res.User.ID {
		t.Fatal("login must upsert, not duplicate")
	}
	if again.User.Username != "alice-renamed" {
		t.Fatalf("username = %q", again.User.Username)
	}

	total, _, err := store.CountUsers(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("users = %d, want 1", total)
	}
}

func TestLoginRejectsBlockedAndEmptyCode(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Login(ctx, ""); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	u := res.User
	u.Blocked = true
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("block user: %v", err)
	}

	if _, err := svc.Login(ctx, "oauth-code"); !errors.IsCode(err, errors.CodeForbidden) {
		t.Fatalf("err = %v, want forbidden for blocked user", err)
	}
}

func TestLoginPropagatesExchangeFailure(t *testing.T) {
	svc, _, gh := newTestService(t)
	gh.exchangeErr = errors.Unauthorized("bad code")

	if _, err := svc.Login(context.Background(), "oauth-code"); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestRefresh(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	access, err := svc.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" {
		t.Fatal("access token must be issued")
	}

	// An access token is not a refresh token.
	if _, err := svc.Refresh(ctx, res.Tokens.AccessToken); err == nil {
		t.Fatal("refresh with an access token must fail")
	}

	u := res.User
	u.Blocked = true
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("block user: %v", err)
	}
	if _, err := svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.IsCode(err, errors.CodeForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestProfileAndAgents(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	profile, err := svc.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.User.ID != res.User.ID {
		t.Fatalf("profile user = %+v", profile.User)
	}
	if _, err := svc.GetProfile(ctx, "nobody"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	agents, err := svc.AgentsOf(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("agents of: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("agents = %+v", agents)
	}
}

func TestPersonalAccessTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	issued, err := svc.CreateToken(ctx, res.User.ID, "laptop")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if !auth.IsPAT(issued.Plain) {
		t.Fatalf("plain credential %q is not a PAT", issued.Plain)
	}
	tokenID, secret, err := auth.ParsePAT(issued.Plain)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tokenID != issued.Token.ID {
		t.Fatalf("token id = %q, want %q", tokenID, issued.Token.ID)
	}
	if !auth.CheckPATSecret(issued.Token.TokenHash, secret) {
		t.Fatal("stored hash must match the issued secret")
	}

	list, err := svc.ListTokens(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(list) != 1 || list[0].Name != "laptop" {
		t.Fatalf("tokens = %+v", list)
	}

	if err := svc.DeleteToken(ctx, res.User.ID, issued.Token.ID); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if err := svc.DeleteToken(ctx, res.User.ID, issued.Token.ID); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCreateTokenDefaultsName(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "oauth-code")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	issued, err := svc.CreateToken(ctx, res.User.ID, "")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if issued.Token.Name != "cli" {
		t.Fatalf("name = %q, want cli", issued.Token.Name)
	}
	if issued.Token.LastUsedAt != nil {
		t.Fatalf("fresh token must have no last-used time, got %v", issued.Token.LastUsedAt)
	}
}
