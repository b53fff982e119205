package fit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

var ErrNotLinked = errors.New("google fit account not linked")

// TokenStore keeps one Google OAuth token per user in Redis.
type TokenStore struct {
	client *redis.Client
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func tokenKey(userID string) string {
	return "google:token:" + userID
}

// Save stores tok. A refreshed token without a refresh token keeps the
// one already on file.
func (s *TokenStore) Save(ctx context.Context, userID string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}
	stored := *tok
	if stored.RefreshToken == "" {
		if prev, err := s.Load(ctx, userID); err == nil {
			stored.RefreshToken = prev.RefreshToken
		}
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tokenKey(userID), data, 0).Err()
}

func (s *TokenStore) Load(ctx context.Context, userID string) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, tokenKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}
