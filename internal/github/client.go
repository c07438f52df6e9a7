// Package github talks to the GitHub OAuth and REST APIs for sign-in.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agenthub/marketplace/internal/errors"
)

const (
	oauthURL = "https://github.com/login/oauth"
	apiURL   = "https://api.github.com"
)

// Client exchanges OAuth codes and fetches user profiles.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	oauthBase    string
	apiBase      string
	maxRetries   int
}

// Config configures the GitHub client.
type Config struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	// OAuthBaseURL and APIBaseURL override the GitHub endpoints in tests.
	OAuthBaseURL string
	APIBaseURL   string
}

// New creates a GitHub client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	oauthBase := cfg.OAuthBaseURL
	if oauthBase == "" {
		oauthBase = oauthURL
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = apiURL
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		oauthBase:    oauthBase,
		apiBase:      apiBase,
		maxRetries:   maxRetries,
	}
}

// AuthorizeURL returns the URL the browser is redirected to for consent.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("scope", "read:user user:email")
	if state != "" {
		q.Set("state", state)
	}
	return c.oauthBase + "/authorize?" + q.Encode()
}

// User is the subset of the GitHub profile the marketplace stores.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// ExchangeCode trades an OAuth authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthBase+"/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok tokenResponse
	if err := c.doJSON(req, &tok); err != nil {
		return "", err
	}
	if tok.Error != "" || tok.AccessToken == "" {
		return "", errors.Unauthorized("GitHub code exchange failed").WithDetails("github_error", tok.Error)
	}
	return tok.AccessToken, nil
}

// FetchUser loads the authenticated GitHub profile. When the profile has
// no public email, the primary verified address is fetched instead.
func (c *Client) FetchUser(ctx context.Context, accessToken string) (User, error) {
	var u User
	if err := c.getAPI(ctx, accessToken, "/user", &u); err != nil {
		return User{}, err
	}
	if u.Email == "" {
		email, err := c.primaryEmail(ctx, accessToken)
		if err == nil {
			u.Email = email
		}
	}
	return u, nil
}

type emailEntry struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (c *Client) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var entries []emailEntry
	if err := c.getAPI(ctx, accessToken, "/user/emails", &entries); err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range entries {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("no verified email")
}

func (c *Client) getAPI(ctx context.Context, accessToken, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	return c.doJSON(req, out)
}

// doJSON executes the request with retries on transient failures and
// decodes a JSON response.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return req.Context().Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return fmt.Errorf("rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("github responded %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return errors.Unauthorized("GitHub rejected the access token")
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("github responded %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode github response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("github request failed: %w", lastErr)
}
