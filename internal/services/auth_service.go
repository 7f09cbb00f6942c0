package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/kafka"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	"github.com/honeynil/AuthServiceTochka/internal/repository"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"

	defaultFullName = "User"
	eventRetries    = 3
)

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, *models.User, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context, claims *models.AccessClaims) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

type RegisterInput struct {
	Email     string
	Password  string
	FullName  string
	FirstName string
	LastName  string
	Phone     string
}

type AuthResult struct {
	User   *models.User
	Tokens models.TokenPair
}

// EventPublisher is satisfied by kafka.EventPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.UserEvent) error
}

type TokenRecorder interface {
	TokenIssued(kind string)
}

type authService struct {
	userRepo   repository.UserRepository
	tokens     *auth.TokenService
	hasher     PasswordHasher
	events     EventPublisher
	metrics    TokenRecorder
	now        func() time.Time
	retryDelay time.Duration
}

// NewAuthService wires the auth flows. events and metrics may be nil.
func NewAuthService(
	userRepo repository.UserRepository,
	tokens *auth.TokenService,
	hasher PasswordHasher,
	events EventPublisher,
	metrics TokenRecorder,
) *authService {
	return &authService{
		userRepo:   userRepo,
		tokens:     tokens,
		hasher:     hasher,
		events:     events,
		metrics:    metrics,
		now:        time.Now,
		retryDelay: time.Second,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if in.Email == "" || in.Password == "" {
		span.SetStatus(codes.Error, "empty email or password")
		return nil, fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidInput)
	}

	existingUser, err := s.userRepo.GetByEmail(ctx, in.Email)
	if existingUser != nil {
		span.SetStatus(codes.Error, "email already registered")
		slog.Warn("email already registered", "existing_id", existingUser.ID)
		return nil, pkgerrors.ErrUserAlreadyExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		slog.Error("failed to check user existence", "error", err)
		return nil, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Email:        in.Email,
		PasswordHash: &hash,
		FullName:     displayName(in),
		Role:         models.DefaultRole,
	}
	if in.Phone != "" {
		phone := in.Phone
		user.Phone = &phone
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserAlreadyExists) {
			span.SetStatus(codes.Error, "email already registered")
			return nil, pkgerrors.ErrUserAlreadyExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user in DB", "error", err)
		return nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	tokens, err := s.issuePair(user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return nil, err
	}

	s.publish(kafka.UserEvent{Type: kafka.EventUserRegistered, UserID: user.ID, Email: user.Email})

	slog.Info("user registered successfully", "user_id", user.ID)
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if email == "" || password == "" {
		span.SetStatus(codes.Error, "empty email or password")
		return nil, fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidInput)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.RecordError(err)
			slog.Error("failed to load user for login", "error", err)
			return nil, fmt.Errorf("%w: failed to load user", pkgerrors.ErrInternal)
		}
		span.SetStatus(codes.Error, "unknown email")
		slog.Warn("login rejected", "reason", "unknown email")
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if !user.HasPassword() {
		span.SetStatus(codes.Error, "no password set")
		slog.Warn("login rejected", "reason", "no password set", "user_id", user.ID)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	if err := s.hasher.Compare(*user.PasswordHash, password); err != nil {
		span.SetStatus(codes.Error, "password mismatch")
		slog.Warn("login rejected", "reason", "password mismatch", "user_id", user.ID)
		return nil, pkgerrors.ErrInvalidCredentials
	}

	seenAt := s.now().UTC()
	if err := s.userRepo.UpdateLastSeen(ctx, user.ID, seenAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "last seen update failed")
		slog.Error("failed to update last seen on login", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: failed to update last seen", pkgerrors.ErrInternal)
	}
	user.LastSeenAt = &seenAt

	tokens, err := s.issuePair(user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return nil, err
	}

	s.publish(kafka.UserEvent{Type: kafka.EventUserLoggedIn, UserID: user.ID, Email: user.Email, At: seenAt})

	slog.Info("user logged in", "user_id", user.ID)
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh returns a new access token. The refresh token itself is not rotated.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (string, *models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	if refreshToken == "" {
		span.SetStatus(codes.Error, "empty refresh token")
		return "", nil, fmt.Errorf("%w: refresh token is required", pkgerrors.ErrInvalidInput)
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		span.SetStatus(codes.Error, "refresh token rejected")
		slog.Warn("refresh token rejected", "error", err)
		return "", nil, pkgerrors.ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		span.SetStatus(codes.Error, "malformed user id")
		return "", nil, pkgerrors.ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.SetStatus(codes.Error, "user not found")
			return "", nil, pkgerrors.ErrUserNotFound
		}
		span.RecordError(err)
		slog.Error("failed to load user for refresh", "user_id", id, "error", err)
		return "", nil, fmt.Errorf("%w: failed to load user", pkgerrors.ErrInternal)
	}

	access, err := s.issueAccess(user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		return "", nil, err
	}

	slog.Info("access token refreshed", "user_id", user.ID)
	return access, user, nil
}

// Logout is an acknowledgment only. Issued tokens stay valid until expiry.
func (s *authService) Logout(ctx context.Context) error {
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		slog.Info("user logged out", "user_id", claims.UserID)
	}
	return nil
}

func (s *authService) Profile(ctx context.Context, claims *models.AccessClaims) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "Profile")
	defer span.End()

	if claims == nil {
		span.SetStatus(codes.Error, "no claims")
		return nil, pkgerrors.ErrUnauthenticated
	}

	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		span.SetStatus(codes.Error, "malformed user id")
		return nil, pkgerrors.ErrUserNotFound
	}
	return s.lookup(ctx, id)
}

func (s *authService) UserByID(ctx context.Context, id int64) (*models.User, error) {
	tracer := otel.Tracer("auth-service")
	ctx, span := tracer.Start(ctx, "UserByID")
	defer span.End()

	if id <= 0 {
		span.SetStatus(codes.Error, "invalid user id")
		return nil, fmt.Errorf("%w: user id must be positive", pkgerrors.ErrInvalidInput)
	}
	return s.lookup(ctx, id)
}

func (s *authService) lookup(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		slog.Error("failed to load user", "user_id", id, "error", err)
		return nil, fmt.Errorf("%w: failed to load user", pkgerrors.ErrInternal)
	}
	return user, nil
}

func (s *authService) issuePair(user *models.User) (models.TokenPair, error) {
	access, err := s.issueAccess(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := s.tokens.IssueRefreshToken(models.RefreshClaims{
		UserID:  strconv.FormatInt(user.ID, 10),
		TokenID: s.tokens.NewTokenID(),
	})
	if err != nil {
		slog.Error("failed to sign refresh token", "user_id", user.ID, "error", err)
		return models.TokenPair{}, fmt.Errorf("%w: failed to generate token", pkgerrors.ErrInternal)
	}
	s.tokenIssued(TokenKindRefresh)

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *authService) issueAccess(user *models.User) (string, error) {
	role := user.Role
	if role == "" {
		role = models.DefaultRole
	}
	access, err := s.tokens.IssueAccessToken(models.AccessClaims{
		UserID: strconv.FormatInt(user.ID, 10),
		Email:  user.Email,
		Role:   role,
	})
	if err != nil {
		slog.Error("failed to sign access token", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to generate token", pkgerrors.ErrInternal)
	}
	s.tokenIssued(TokenKindAccess)
	return access, nil
}

func (s *authService) tokenIssued(kind string) {
	if s.metrics != nil {
		s.metrics.TokenIssued(kind)
	}
}

// publish sends the event in the background with linear backoff. Delivery
// failures are only logged.
func (s *authService) publish(event kafka.UserEvent) {
	if s.events == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now().UTC()
	}
	go func() {
		for i := 0; i < eventRetries; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.events.Publish(ctx, event)
			cancel()
			if err == nil {
				slog.Debug("user event sent", "event_type", event.Type, "user_id", event.UserID)
				return
			}
			time.Sleep(s.retryDelay * time.Duration(i+1))
		}
		slog.Error("failed to send user event after retries", "event_type", event.Type, "user_id", event.UserID)
	}()
}

func displayName(in RegisterInput) string {
	if in.FullName != "" {
		return in.FullName
	}
	if name := strings.TrimSpace(in.FirstName + " " + in.LastName); name != "" {
		return name
	}
	return defaultFullName
}

// RepositoryToucher writes last-seen straight to the user store.
type RepositoryToucher struct {
	Users repository.UserRepository
	Now   func() time.Time
}

func (t RepositoryToucher) TouchLastSeen(ctx context.Context, userID string) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: user id %q", pkgerrors.ErrInvalidInput, userID)
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return t.Users.UpdateLastSeen(ctx, id, now().UTC())
}
