package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages accounts and resolves each user's consultation plan.
type Service struct {
	repo  Repository
	plans Plans
	now   func() time.Time
}

func NewService(repo Repository, plans Plans) *Service {
	return &Service{repo: repo, plans: plans, now: time.Now}
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Create(ctx context.Context, email, username, passwordHash string) (*User, error) {
	now := s.now().UTC()
	user := &User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(email),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, NormalizeEmail(email))
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.repo.ExistsByEmail(ctx, NormalizeEmail(email))
}

func (s *Service) SetPremium(ctx context.Context, id uuid.UUID, premium bool) error {
	return s.repo.SetPremium(ctx, id, premium)
}

// DailyLimit returns the user's aggregate consultation limit. A user the
// repository does not know gets the default plan; a lookup failure is
// returned so the caller can refuse rather than guess.
func (s *Service) DailyLimit(ctx context.Context, id uuid.UUID) (int, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("resolving plan: %w", err)
	}
	return s.plans.DailyLimit(user), nil
}
