package auth

import (
	"strings"
	"time"

	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/validation"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the user as shown to clients and carried in access tokens.
func (u User) Identity() identity.User {
	return identity.User{
		ID:    u.ID,
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		Email: u.Email,
	}
}

type RegisterRequest = validation.RegistrationForm

type LoginRequest = validation.LoginForm

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type GoogleLoginRequest struct {
	Token string `json:"token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type SessionResponse struct {
	User   identity.User `json:"user"`
	Tokens TokenResponse `json:"tokens"`
}
