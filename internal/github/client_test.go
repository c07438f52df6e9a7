package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/access_token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("code") != "abc" {
			t.Errorf("code = %q", r.Form.Get("code"))
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_test", "token_type": "bearer"})
	}))
	defer srv.Close()

	c := New(Config{ClientID: "id", ClientSecret: "secret", OAuthBaseURL: srv.URL})
	token, err := c.ExchangeCode(context.Background(), "abc")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if token != "gho_test" {
		t.Fatalf("token = %q", token)
	}
}

func TestExchangeCodeBadCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
	}))
	defer srv.Close()

	c := New(Config{OAuthBaseURL: srv.URL})
	if _, err := c.ExchangeCode(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for bad code")
	}
}

func TestFetchUserFallsBackToPrimaryEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gho_test" {
			t.Errorf("authorization = %q", got)
		}
		switch r.URL.Path {
		case "/user":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": 42, "login": "alice", "avatar_url": "https://example.com/a.png",
			})
		case "/user/emails":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"email": "old@example.com", "primary": false, "verified": true},
				{"email": "alice@example.com", "primary": true, "verified": true},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Config{APIBaseURL: srv.URL})
	u, err := c.FetchUser(context.Background(), "gho_test")
	if err != nil {
		t.Fatalf("fetch user: %v", err)
	}
	if u.ID != 42 || u.Login != "alice" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email = %q, want primary verified", u.Email)
	}
}

func TestFetchUserRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": 7, "login": "bob", "email": "bob@example.com",
		})
	}))
	defer srv.Close()

	c := New(Config{APIBaseURL: srv.URL, MaxRetries: 2})
	u, err := c.FetchUser(context.Background(), "gho_test")
	if err != nil {
		t.Fatalf("fetch user: %v", err)
	}
	if u.Login != "bob" || calls != 2 {
		t.Fatalf("user=%+v calls=%d", u, calls)
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := New(Config{ClientID: "my-id"})
	got := c.AuthorizeURL("xyz")
	if !strings.Contains(got, "client_id=my-id") || !strings.Contains(got, "state=xyz") {
		t.Fatalf("authorize url = %q", got)
	}
}
