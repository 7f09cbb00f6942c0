package auth

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
)

const (
	DefaultAccessTTL  = "15m"
	DefaultRefreshTTL = "7d"

	accessAudience  = "access"
	refreshAudience = "refresh"
)

var ttlPattern = regexp.MustCompile(`^(\d+)([dhm])$`)

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     string
	RefreshTTL    string
	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenService signs and verifies access and refresh tokens. Each kind has its
// own secret and audience, so one can never be accepted as the other.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    string
	now           func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: token secrets must not be empty", pkgerrors.ErrConfig)
	}
	if cfg.AccessTTL == "" {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == "" {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	accessTTL, err := ParseTTL(cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("access ttl: %w", err)
	}
	if _, err := ParseTTL(cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("refresh ttl: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}, nil
}

func (s *TokenService) IssueAccessToken(claims models.AccessClaims) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{accessAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) IssueRefreshToken(claims models.RefreshClaims) (string, error) {
	expiresAt, err := s.RefreshExpirationFromNow()
	if err != nil {
		return "", err
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{refreshAudience},
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) VerifyAccessToken(tokenStr string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := s.parse(tokenStr, claims, s.accessSecret, accessAudience); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", pkgerrors.ErrInvalidToken)
	}
	return claims, nil
}

func (s *TokenService) VerifyRefreshToken(tokenStr string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := s.parse(tokenStr, claims, s.refreshSecret, refreshAudience); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", pkgerrors.ErrInvalidToken)
	}
	return claims, nil
}

// NewTokenID returns a random UUIDv4 used to tag a refresh token issuance.
func (s *TokenService) NewTokenID() string {
	return uuid.NewString()
}

// RefreshExpirationFromNow returns the absolute expiry of a refresh token
// issued at this instant. Days are calendar days.
func (s *TokenService) RefreshExpirationFromNow() (time.Time, error) {
	value, unit, err := splitTTL(s.refreshTTL)
	if err != nil {
		return time.Time{}, err
	}
	now := s.now()
	switch unit {
	case 'd':
		return now.AddDate(0, 0, int(value)), nil
	case 'h':
		return now.Add(time.Duration(value) * time.Hour), nil
	default:
		return now.Add(time.Duration(value) * time.Minute), nil
	}
}

func (s *TokenService) parse(tokenStr string, claims jwt.Claims, secret []byte, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrInvalidToken, err)
	}
	if !token.Valid {
		return pkgerrors.ErrInvalidToken
	}
	return nil
}

// ParseTTL parses "<integer><unit>" where unit is d, h or m.
// Fractions, signs, combined units and any other unit are rejected.
func ParseTTL(spec string) (time.Duration, error) {
	value, unit, err := splitTTL(spec)
	if err != nil {
		return 0, err
	}
	var step time.Duration
	switch unit {
	case 'd':
		step = 24 * time.Hour
	case 'h':
		step = time.Hour
	default:
		step = time.Minute
	}
	if value > int64(math.MaxInt64/step) {
		return 0, fmt.Errorf("%w: duration %q overflows", pkgerrors.ErrConfig, spec)
	}
	return time.Duration(value) * step, nil
}

func splitTTL(spec string) (int64, byte, error) {
	m := ttlPattern.FindStringSubmatch(spec)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: duration %q must be <integer><d|h|m>", pkgerrors.ErrConfig, spec)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: duration %q: %v", pkgerrors.ErrConfig, spec, err)
	}
	return value, m[2][0], nil
}
