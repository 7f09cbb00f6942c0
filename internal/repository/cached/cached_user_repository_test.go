package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/redis"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	"github.com/honeynil/AuthServiceTochka/internal/repository/mocks"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*UserRepository, *mocks.MockUserRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	next := &mocks.MockUserRepository{}
	return NewUserRepository(next, client, 5*time.Minute), next, mr
}

func TestGetByID_ReadThrough(t *testing.T) {
	repo, next, mr := setup(t)
	ctx := context.Background()
	hash := "hash"
	stored := &models.User{ID: 3, Email: "a@x.com", PasswordHash: &hash, FullName: "Ann", Role: "user", CreatedAt: time.Now().UTC()}

	next.On("GetByID", mock.Anything, int64(3)).Return(stored, nil).Once()

	first, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Same(t, stored, first)
	assert.True(t, mr.Exists("user:3"))

	raw, err := mr.Get("user:3")
	require.NoError(t, err)
	assert.NotContains(t, raw, "hash")

	second, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, stored.Email, second.Email)
	assert.Equal(t, stored.Role, second.Role)
	assert.Nil(t, second.PasswordHash)

	next.AssertExpectations(t)
	assert.Equal(t, 5*time.Minute, mr.TTL("user:3"))
}

func TestGetByID_NotFoundIsNotCached(t *testing.T) {
	repo, next, mr := setup(t)

	next.On("GetByID", mock.Anything, int64(9)).Return(nil, pkgerrors.ErrUserNotFound).Twice()

	_, err := repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	_, err = repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)

	assert.False(t, mr.Exists("user:9"))
	next.AssertExpectations(t)
}

func TestGetByID_CorruptEntryFallsBack(t *testing.T) {
	repo, next, mr := setup(t)
	require.NoError(t, mr.Set("user:4", "{not json"))

	next.On("GetByID", mock.Anything, int64(4)).Return(&models.User{ID: 4, Email: "d@x.com"}, nil).Once()

	user, err := repo.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "d@x.com", user.Email)
	next.AssertExpectations(t)
}

func TestUpdateLastSeen_Invalidates(t *testing.T) {
	repo, next, mr := setup(t)
	require.NoError(t, mr.Set("user:3", `{"id":3}`))
	at := time.Now()

	next.On("UpdateLastSeen", mock.Anything, int64(3), at).Return(nil).Once()

	require.NoError(t, repo.UpdateLastSeen(context.Background(), 3, at))
	assert.False(t, mr.Exists("user:3"))
	next.AssertExpectations(t)
}

func TestUpdateLastSeen_StoreErrorKeepsCache(t *testing.T) {
	repo, next, mr := setup(t)
	require.NoError(t, mr.Set("user:3", `{"id":3}`))
	at := time.Now()

	next.On("UpdateLastSeen", mock.Anything, int64(3), at).Return(errors.New("db down")).Once()

	assert.Error(t, repo.UpdateLastSeen(context.Background(), 3, at))
	assert.True(t, mr.Exists("user:3"))
}

func TestPassThrough(t *testing.T) {
	repo, next, _ := setup(t)
	user := &models.User{Email: "a@x.com"}

	next.On("Create", mock.Anything, user).Return(nil).Once()
	next.On("GetByEmail", mock.Anything, "a@x.com").Return(user, nil).Once()

	require.NoError(t, repo.Create(context.Background(), user))
	got, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Same(t, user, got)
	next.AssertExpectations(t)
}
