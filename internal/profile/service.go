package profile

import (
	"context"
	"strings"

	"backend-fittrack/internal/identity"
	"backend-fittrack/internal/validation"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, uid string) (Profile, error) {
	return s.repo.Get(ctx, uid)
}

func (s *Service) Update(ctx context.Context, uid string, req UpdateRequest) (Profile, error) {
	if err := validation.Struct(req); err != nil {
		return Profile{}, err
	}
	return s.repo.Update(ctx, uid, req.fields())
}

// Seed creates the profile of a user seen for the first time. Existing
// profiles are left untouched.
func (s *Service) Seed(ctx context.Context, who identity.User) error {
	first, last, _ := strings.Cut(strings.TrimSpace(who.Name), " ")
	return s.repo.Create(ctx, Profile{
		UID:       who.ID,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     who.Email,
		Picture:   who.Picture,
	})
}
