// Package auth issues and verifies the platform's JWTs and personal
// access tokens.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/agenthub/marketplace/internal/errors"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// PATPrefix marks personal access tokens in Authorization headers.
const PATPrefix = "amp_"

// Claims are the JWT claims issued by the marketplace.
type Claims struct {
	Username  string `json:"username"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 JWTs.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates an issuer with the given signing secret and TTLs.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// TokenPair bundles the access and refresh tokens returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssuePair issues an access and refresh token for the user.
func (i *TokenIssuer) IssuePair(userID, username string) (TokenPair, error) {
	access, err := i.issue(userID, username, TokenTypeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.issue(userID, username, TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// IssueAccess issues a fresh access token for the user.
func (i *TokenIssuer) IssueAccess(userID, username string) (string, error) {
	return i.issue(userID, username, TokenTypeAccess, i.accessTTL)
}

func (i *TokenIssuer) issue(userID, username, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username:  username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and checks its signature and type.
func (i *TokenIssuer) Verify(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, errors.TokenExpired()
		}
		return nil, errors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.TokenType != wantType {
		return nil, errors.InvalidToken(nil).WithDetails("type", claims.TokenType)
	}
	return claims, nil
}

// NewPATSecret generates a personal access token secret and its bcrypt
// hash. Only the hash is stored; the composed token is shown to the user
// once.
func NewPATSecret() (secret, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	secret = hex.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return secret, string(hashed), nil
}

// ComposePAT builds the bearer credential handed to the user. The token
// record ID is embedded so verification is a single lookup.
func ComposePAT(tokenID, secret string) string {
	return PATPrefix + tokenID + "." + secret
}

// ParsePAT splits a bearer credential into the token record ID and secret.
func ParsePAT(credential string) (tokenID, secret string, err error) {
	if !strings.HasPrefix(credential, PATPrefix) {
		return "", "", fmt.Errorf("not a personal access token")
	}
	rest := strings.TrimPrefix(credential, PATPrefix)
	id, sec, ok := strings.Cut(rest, ".")
	if !ok || id == "" || sec == "" {
		return "", "", fmt.Errorf("malformed personal access token")
	}
	return id, sec, nil
}

// CheckPATSecret reports whether the secret matches the stored hash.
func CheckPATSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// IsPAT reports whether the bearer credential is a personal access token.
func IsPAT(credential string) bool {
	return strings.HasPrefix(credential, PATPrefix)
}
