package repository

import (
	"context"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/models"
)

// UserRepository is the credential store. Lookups of missing users return
// pkg/errors.ErrUserNotFound, duplicate emails ErrUserAlreadyExists.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastSeen(ctx context.Context, id int64, at time.Time) error
}
