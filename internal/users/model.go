package users

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Premium      bool      `json:"premium"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Plans holds the aggregate daily consultation limit per plan.
type Plans struct {
	DefaultDailyLimit int
	PremiumDailyLimit int
}

// DefaultPlans returns 3 consultations a day, 10 for premium users.
func DefaultPlans() Plans {
	return Plans{DefaultDailyLimit: 3, PremiumDailyLimit: 10}
}

// DailyLimit returns the aggregate limit for u.
func (p Plans) DailyLimit(u *User) int {
	if u != nil && u.Premium {
		return p.PremiumDailyLimit
	}
	return p.DefaultDailyLimit
}
