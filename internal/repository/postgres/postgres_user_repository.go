package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/honeynil/AuthServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.Email == "" {
		return fmt.Errorf("%w: email is required", pkgerrors.ErrInvalidInput)
	}
	if user.Role == "" {
		user.Role = models.DefaultRole
	}

	query := `
	INSERT INTO users (email, password_hash, full_name, phone, role)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at
	`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Phone,
		user.Role,
	).Scan(&user.ID, &user.CreatedAt)

	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", pkgerrors.ErrUserAlreadyExists, user.Email)
	case err != nil:
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, email, password_hash, full_name, phone, role, last_seen_at, created_at FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: id %d", pkgerrors.ErrUserNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
	}

	query := `SELECT id, email, password_hash, full_name, phone, role, last_seen_at, created_at FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: '%s'", pkgerrors.ErrUserNotFound, email)
	case err != nil:
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// UpdateLastSeen is last-write-wins.
func (r *PostgresUserRepository) UpdateLastSeen(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", pkgerrors.ErrUserNotFound, id)
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user     models.User
		hash     sql.NullString
		phone    sql.NullString
		lastSeen sql.NullTime
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&hash,
		&user.FullName,
		&phone,
		&user.Role,
		&lastSeen,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	if hash.Valid {
		user.PasswordHash = &hash.String
	}
	if phone.Valid {
		user.Phone = &phone.String
	}
	if lastSeen.Valid {
		user.LastSeenAt = &lastSeen.Time
	}
	return &user, nil
}
