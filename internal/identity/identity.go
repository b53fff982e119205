// Package identity verifies Google ID tokens and runs the OAuth code flow
// used to link a Google Fit account.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrNotConfigured  = errors.New("google sign-in not configured")
	ErrMissingIDToken = errors.New("token response carried no id_token")
)

// FitScopes are the read scopes requested when linking Google Fit.
var FitScopes = []string{
	"https://www.googleapis.com/auth/fitness.activity.read",
	"https://www.googleapis.com/auth/fitness.blood_glucose.read",
	"https://www.googleapis.com/auth/fitness.blood_pressure.read",
	"https://www.googleapis.com/auth/fitness.body.read",
	"https://www.googleapis.com/auth/fitness.body_temperature.read",
	"https://www.googleapis.com/auth/fitness.heart_rate.read",
	"https://www.googleapis.com/auth/fitness.location.read",
	"https://www.googleapis.com/auth/fitness.nutrition.read",
	"https://www.googleapis.com/auth/fitness.reproductive_health.read",
}

// User is the identity shape exchanged with clients.
type User struct {
	ID      string `json:"Id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Google struct {
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// NewGoogle discovers the provider at cfg.Issuer.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	if cfg.ClientID == "" {
		return nil, ErrNotConfigured
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(initCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return NewGoogleWithVerifier(verifier, oauthConfig(cfg, provider.Endpoint())), nil
}

func NewGoogleWithVerifier(verifier *oidc.IDTokenVerifier, oauth *oauth2.Config) *Google {
	return &Google{verifier: verifier, oauth: oauth}
}

func oauthConfig(cfg Config, endpoint oauth2.Endpoint) *oauth2.Config {
	scopes := append([]string{oidc.ScopeOpenID, "profile", "email"}, FitScopes...)
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

type idClaims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Verify checks signature, issuer, audience and expiry of a raw ID token.
func (g *Google) Verify(ctx context.Context, raw string) (User, error) {
	if g == nil || g.verifier == nil {
		return User{}, ErrNotConfigured
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token, err := g.verifier.Verify(verifyCtx, raw)
	if err != nil {
		return User{}, err
	}

	var claims idClaims
	if err := token.Claims(&claims); err != nil {
		return User{}, fmt.Errorf("decode claims: %w", err)
	}
	return User{
		ID:      token.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Picture: claims.Picture,
	}, nil
}

// AuthCodeURL asks for offline access so Fit data can be refreshed later.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens and verifies the
// accompanying ID token.
func (g *Google) Exchange(ctx context.Context, code string) (*oauth2.Token, User, error) {
	if g == nil || g.oauth == nil {
		return nil, User{}, ErrNotConfigured
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	token, err := g.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, User{}, fmt.Errorf("exchange code: %w", err)
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, User{}, ErrMissingIDToken
	}
	user, err := g.Verify(ctx, rawID)
	if err != nil {
		return nil, User{}, err
	}
	return token, user, nil
}

// TokenSource refreshes tok through the configured OAuth client.
func (g *Google) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	if g == nil || g.oauth == nil {
		return oauth2.StaticTokenSource(tok)
	}
	return g.oauth.TokenSource(ctx, tok)
}
