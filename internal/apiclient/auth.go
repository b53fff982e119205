package apiclient

import (
	"context"
	"net/http"
	"time"
)

type userEnvelope struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

// FetchUser resolves the profile behind token via GET /auth/user.
func (c *Client) FetchUser(ctx context.Context, token string) (User, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodGet, "/auth/user", token, nil, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

// GoogleLogin verifies a Google ID token with the server.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (User, error) {
	var out userEnvelope
	body := map[string]string{"token": idToken}
	if err := c.do(ctx, http.MethodPost, "/auth/google", "", body, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t Tokens) TTL() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

type LoginResult struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

type Registration struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (c *Client) Register(ctx context.Context, reg Registration) (LoginResult, error) {
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", reg, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}
