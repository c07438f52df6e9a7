// Package users implements sign-in, profiles and personal access tokens.
package users

import (
	"context"
	stderrors "errors"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/domain/agent"
	"github.com/agenthub/marketplace/internal/domain/user"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/github"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/storage"
)

// GitHubClient is the part of the GitHub API the service needs.
type GitHubClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchUser(ctx context.Context, accessToken string) (github.User, error)
}

// Service handles accounts and authentication.
type Service struct {
	store  storage.Store
	github GitHubClient
	issuer *auth.TokenIssuer
	logger *logging.Logger
}

// New creates the users service.
func New(store storage.Store, gh GitHubClient, issuer *auth.TokenIssuer, logger *logging.Logger) *Service {
	return &Service{store: store, github: gh, issuer: issuer, logger: logger}
}

// AuthorizeURL returns the GitHub consent URL for the OAuth flow.
func (s *Service) AuthorizeURL(state string) string {
	return s.github.AuthorizeURL(state)
}

// LoginResult is returned after a successful OAuth exchange.
type LoginResult struct {
	User   user.User      `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// Login exchanges a GitHub OAuth code, upserts the account and issues a
// token pair. Blocked accounts are refused.
func (s *Service) Login(ctx context.Context, code string) (LoginResult, error) {
	if code == "" {
		return LoginResult{}, errors.InvalidInput("code is required")
	}

	ghToken, err := s.github.ExchangeCode(ctx, code)
	if err != nil {
		return LoginResult{}, err
	}
	profile, err := s.github.FetchUser(ctx, ghToken)
	if err != nil {
		return LoginResult{}, err
	}

	u, err := s.upsertUser(ctx, profile)
	if err != nil {
		return LoginResult{}, err
	}
	if u.Blocked {
		s.logger.LogSecurityEvent(ctx, "blocked_user_login", map[string]interface{}{
			"user_id": u.ID,
		})
		return LoginResult{}, errors.Forbidden("Account is blocked")
	}

	tokens, err := s.issuer.IssuePair(u.ID, u.Username)
	if err != nil {
		return LoginResult{}, errors.Internal("issue tokens", err)
	}
	s.logger.WithContext(ctx).WithField("user_id", u.ID).Info("User logged in")
	return LoginResult{User: u, Tokens: tokens}, nil
}

func (s *Service) upsertUser(ctx context.Context, profile github.User) (user.User, error) {
	existing, err := s.store.GetUserByGitHubID(ctx, profile.ID)
	switch {
	case err == nil:
		existing.Username = profile.Login
		existing.Email = profile.Email
		existing.AvatarURL = profile.AvatarURL
		if profile.Bio != "" {
			existing.Bio = profile.Bio
		}
		updated, err := s.store.UpdateUser(ctx, existing)
		if err != nil {
			return user.User{}, errors.Internal("update user", err)
		}
		return updated, nil
	case stderrors.Is(err, storage.ErrNotFound):
		created, err := s.store.CreateUser(ctx, user.User{
			GitHubID:  profile.ID,
			Username:  profile.Login,
			Email:     profile.Email,
			AvatarURL: profile.AvatarURL,
			Bio:       profile.Bio,
			Role:      user.RoleUser,
			Active:    true,
		})
		if err != nil {
			return user.User{}, errors.Internal("create user", err)
		}
		return created, nil
	default:
		return user.User{}, errors.Internal("load user", err)
	}
}

// Refresh exchanges a refresh token for a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.issuer.Verify(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return "", err
	}
	u, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return "", errors.Unauthorized("Unknown user")
	}
	if u.Blocked {
		return "", errors.Forbidden("Account is blocked")
	}
	access, err := s.issuer.IssueAccess(u.ID, u.Username)
	if err != nil {
		return "", errors.Internal("issue token", err)
	}
	return access, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, errors.NotFound("user", id)
		}
		return user.User{}, errors.Internal("load user", err)
	}
	return u, nil
}

// Profile is a public user page: account plus contribution stats.
type Profile struct {
	User  user.User  `json:"user"`
	Stats user.Stats `json:"stats"`
}

// GetProfile returns the public profile for a username.
func (s *Service) GetProfile(ctx context.Context, username string) (Profile, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return Profile{}, errors.NotFound("user", username)
		}
		return Profile{}, errors.Internal("load user", err)
	}
	stats, err := s.store.UserStats(ctx, u.ID)
	if err != nil {
		return Profile{}, errors.Internal("load user stats", err)
	}
	return Profile{User: u, Stats: stats}, nil
}

// AgentsOf lists the public agents published by a user.
func (s *Service) AgentsOf(ctx context.Context, username string, limit, offset int) ([]agent.Agent, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("user", username)
		}
		return nil, errors.Internal("load user", err)
	}
	out, err := s.store.ListAgents(ctx, agent.ListFilter{
		AuthorID: u.ID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, errors.Internal("list agents", err)
	}
	return out, nil
}

// StarredBy lists the agents a user has starred.
func (s *Service) StarredBy(ctx context.Context, username string, limit, offset int) ([]agent.Agent, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("user", username)
		}
		return nil, errors.Internal("load user", err)
	}
	out, err := s.store.ListStarred(ctx, u.ID, limit, offset)
	if err != nil {
		return nil, errors.Internal("list starred agents", err)
	}
	return out, nil
}

// IssuedToken is the one-time response when a personal access token is
// created.
type IssuedToken struct {
	Token  user.AccessToken `json:"token"`
	Plain  string           `json:"plain"`
	UsedAs string           `json:"used_as"`
}

// CreateToken issues a personal access token for CLI publishing. The
// plain credential is returned once and never stored.
func (s *Service) CreateToken(ctx context.Context, userID, name string) (IssuedToken, error) {
	if name == "" {
		name = "cli"
	}
	secret, hash, err := auth.NewPATSecret()
	if err != nil {
		return IssuedToken{}, errors.Internal("generate token", err)
	}
	tok, err := s.store.CreateAccessToken(ctx, user.AccessToken{
		UserID:    userID,
		Name:      name,
		TokenHash: hash,
	})
	if err != nil {
		return IssuedToken{}, errors.Internal("store token", err)
	}
	return IssuedToken{
		Token:  tok,
		Plain:  auth.ComposePAT(tok.ID, secret),
		UsedAs: "Authorization: Bearer",
	}, nil
}

// ListTokens lists a user's personal access tokens (hashes omitted from
// JSON).
func (s *Service) ListTokens(ctx context.Context, userID string) ([]user.AccessToken, error) {
	out, err := s.store.ListAccessTokens(ctx, userID)
	if err != nil {
		return nil, errors.Internal("list tokens", err)
	}
	return out, nil
}

// DeleteToken revokes a personal access token owned by the user.
func (s *Service) DeleteToken(ctx context.Context, userID, tokenID string) error {
	if err := s.store.DeleteAccessToken(ctx, userID, tokenID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.NotFound("token", tokenID)
		}
		return errors.Internal("delete token", err)
	}
	return nil
}
