package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-fittrack/internal/db"
	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
	// CallbackTokenTTL is the lifetime of tokens issued after the Google consent flow.
	CallbackTokenTTL = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRefreshInvalid     = errors.New("refresh token invalid")
	ErrTokenInvalid       = errors.New("token invalid")
)

var hashPasswordFn = bcrypt.GenerateFromPassword

// IDTokenVerifier checks identity tokens issued by an external provider.
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (identity.User, error)
}

type Service struct {
	secret []byte
	db     db.Querier
	google IDTokenVerifier
	now    func() time.Time
}

type Claims struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Identity() identity.User {
	return identity.User{ID: c.UserID, Name: c.Name, Email: c.Email, Picture: c.Picture}
}

type Option func(*Service)

// WithGoogleVerifier lets Resolve accept Google ID tokens as well as our own.
func WithGoogleVerifier(v IDTokenVerifier) Option {
	return func(s *Service) { s.google = v }
}

func NewService(secret string, db db.Querier, opts ...Option) *Service {
	s := &Service{
		secret: []byte(secret),
		db:     db,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return User{}, TokenResponse{}, err
	}
	hash, err := hashPasswordFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, TokenResponse{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, password_hash)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.FirstName, user.LastName, user.PasswordHash)
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, TokenResponse{}, ErrEmailTaken
		}
		return User{}, TokenResponse{}, fmt.Errorf("insert user: %w", err)
	}

	tokens, err := s.GenerateTokens(ctx, user.Identity())
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (User, TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return User{}, TokenResponse{}, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`, req.Email)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, TokenResponse{}, ErrInvalidCredentials
		}
		return User{}, TokenResponse{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return User{}, TokenResponse{}, ErrInvalidCredentials
	}

	tokens, err := s.GenerateTokens(ctx, user.Identity())
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) GenerateTokens(ctx context.Context, who identity.User) (TokenResponse, error) {
	access, err := s.signToken(who, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	refresh, err := s.signToken(who, refreshTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	if err := s.saveRefreshToken(ctx, refresh, who.ID, refreshTokenTTL); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

// IssueAccessToken signs a standalone access token that is not backed by a
// refresh token.
func (s *Service) IssueAccessToken(who identity.User, ttl time.Duration) (string, error) {
	return s.signToken(who, ttl)
}

func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (identity.User, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return identity.User{}, err
	}

	userID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil || userID != claims.UserID || s.now().After(expiresAt) {
		return identity.User{}, ErrRefreshInvalid
	}
	return claims.Identity(), nil
}

func (s *Service) ValidateAccessToken(token string) (identity.User, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return identity.User{}, err
	}
	return claims.Identity(), nil
}

// Resolve accepts our own access tokens and, when configured, Google ID tokens.
func (s *Service) Resolve(ctx context.Context, token string) (identity.User, error) {
	who, err := s.ValidateAccessToken(token)
	if err == nil {
		return who, nil
	}
	if s.google == nil {
		return identity.User{}, err
	}
	return s.google.Verify(ctx, token)
}

func (s *Service) signToken(who identity.User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:  who.ID,
		Name:    who.Name,
		Email:   who.Email,
		Picture: who.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   who.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *Service) saveRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), userID, token, s.now().Add(ttl))
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (string, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var userID string
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return userID, expiresAt, nil
}
