package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	repository "github.com/honeynil/AuthServiceTochka/internal/repository/postgres"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{"id", "email", "password_hash", "full_name", "phone", "role", "last_seen_at", "created_at"}

func strPtr(s string) *string { return &s }

func TestPostgresUserRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("NilUser", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilUser)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyEmail", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{PasswordHash: strPtr("hash")})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		user := &models.User{
			Email:        "a@x.com",
			PasswordHash: strPtr("hash"),
			FullName:     "Ann Example",
		}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash, full_name, phone, role)`)).
			WithArgs("a@x.com", "hash", "Ann Example", nil, "user").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), created))

		err := repo.Create(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.Equal(t, "user", user.Role)
		assert.Equal(t, created, user.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserAlreadyExists", func(t *testing.T) {
		user := &models.User{Email: "a@x.com", PasswordHash: strPtr("hash"), FullName: "User", Role: "user"}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs("a@x.com", "hash", "User", nil, "user").
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		user := &models.User{Email: "b@x.com", FullName: "User", Role: "user", Phone: strPtr("+100")}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs("b@x.com", nil, "User", "+100", "user").
			WillReturnError(fmt.Errorf("database error"))

		err := repo.Create(ctx, user)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, pkgerrors.ErrUserAlreadyExists)
		assert.Contains(t, err.Error(), "database error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		seen := created.Add(time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, email, password_hash, full_name, phone, role, last_seen_at, created_at FROM users WHERE id = $1`)).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(5), "a@x.com", "hash", "Ann", "+100", "admin", seen, created))

		user, err := repo.GetByID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), user.ID)
		assert.Equal(t, "admin", user.Role)
		require.NotNil(t, user.PasswordHash)
		assert.Equal(t, "hash", *user.PasswordHash)
		require.NotNil(t, user.Phone)
		assert.Equal(t, "+100", *user.Phone)
		require.NotNil(t, user.LastSeenAt)
		assert.Equal(t, seen, *user.LastSeenAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NullableColumns", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(int64(6)).
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(6), "b@x.com", nil, "User", nil, "user", nil, time.Now()))

		user, err := repo.GetByID(ctx, 6)
		require.NoError(t, err)
		assert.Nil(t, user.PasswordHash)
		assert.Nil(t, user.Phone)
		assert.Nil(t, user.LastSeenAt)
		assert.False(t, user.HasPassword())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByID(ctx, 99)
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(int64(1)).
			WillReturnError(fmt.Errorf("connection reset"))

		_, err := repo.GetByID(ctx, 1)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("EmptyEmail", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
			WithArgs("a@x.com").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(1), "a@x.com", "hash", "Ann", nil, "user", nil, time.Now()))

		user, err := repo.GetByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", user.Email)
		assert.True(t, user.HasPassword())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
			WithArgs("ghost@x.com").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByEmail(ctx, "ghost@x.com")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_UpdateLastSeen(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_seen_at = $1 WHERE id = $2`)).
			WithArgs(at, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateLastSeen(ctx, 1, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserGone", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_seen_at`)).
			WithArgs(at, int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateLastSeen(ctx, 2, at), pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_seen_at`)).
			WithArgs(at, int64(3)).
			WillReturnError(fmt.Errorf("timeout"))

		err := repo.UpdateLastSeen(ctx, 3, at)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
