// Package cached puts a Redis read-through cache in front of a
// repository.UserRepository for lookups by id.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/redis"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	"github.com/honeynil/AuthServiceTochka/internal/repository"
)

// entry is what lands in Redis. It has no password hash field.
type entry struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Phone      *string    `json:"phone,omitempty"`
	Role       string     `json:"role"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type UserRepository struct {
	next  repository.UserRepository
	cache redis.RedisClient
	ttl   time.Duration
}

func NewUserRepository(next repository.UserRepository, cache redis.RedisClient, ttl time.Duration) *UserRepository {
	return &UserRepository{next: next, cache: cache, ttl: ttl}
}

func userKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.next.Create(ctx, user)
}

// GetByID serves from Redis when possible. Users returned from the cache
// never carry a password hash.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	key := userKey(id)
	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			return e.user(), nil
		}
		slog.Warn("dropping corrupt cached user", "user_id", id, "error", err)
	case !errors.Is(err, redis.ErrKeyNotFound):
		slog.Error("failed to read cached user", "user_id", id, "error", err)
	}

	user, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(newEntry(user))
	if err != nil {
		slog.Error("failed to marshal user for cache", "user_id", id, "error", err)
		return user, nil
	}
	if err := r.cache.Set(ctx, key, string(payload), r.ttl); err != nil {
		slog.Error("failed to cache user", "user_id", id, "error", err)
	}
	return user, nil
}

// GetByEmail always goes to the store: login needs the password hash.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.next.GetByEmail(ctx, email)
}

func (r *UserRepository) UpdateLastSeen(ctx context.Context, id int64, at time.Time) error {
	if err := r.next.UpdateLastSeen(ctx, id, at); err != nil {
		return err
	}
	if err := r.cache.Del(ctx, userKey(id)); err != nil {
		slog.Error("failed to invalidate cached user", "user_id", id, "error", err)
	}
	return nil
}

func newEntry(u *models.User) entry {
	return entry{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Phone:      u.Phone,
		Role:       u.Role,
		LastSeenAt: u.LastSeenAt,
		CreatedAt:  u.CreatedAt,
	}
}

func (e entry) user() *models.User {
	return &models.User{
		ID:         e.ID,
		Email:      e.Email,
		FullName:   e.FullName,
		Phone:      e.Phone,
		Role:       e.Role,
		LastSeenAt: e.LastSeenAt,
		CreatedAt:  e.CreatedAt,
	}
}
