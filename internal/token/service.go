package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"paperstack.io/internal/ids"
	"paperstack.io/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultIssuer     = "paperstack"
)

// Service implements the session state machine: login creates a refresh
// token family, refresh rotates it, logout and reuse detection revoke it.
type Service struct {
	store  Store
	now    func() time.Time
	secret []byte

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service signing access tokens with the HS256 secret.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login starts a new session: one fresh family with a single active record.
func (s *Service) Login(ctx context.Context, userID, orgID, role string) (TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, errors.New("token: userID is required")
	}
	familyID := uuid.NewString()
	return s.mint(ctx, userID, orgID, role, familyID, "")
}

// Refresh validates a presented refresh token and rotates it. A token whose
// record is no longer active is a replay: the whole family is revoked before
// ErrTokenReuse is returned. Two concurrent calls with the same active token
// race on the conditional rotate; the loser is treated as a replay as well.
func (s *Service) Refresh(ctx context.Context, presented string) (TokenPair, error) {
	rec, err := s.lookup(ctx, presented)
	if err != nil {
		return TokenPair{}, err
	}
	if rec.State != StateActive {
		if err := s.revokeFamily(ctx, rec.FamilyID, "reuse"); err != nil {
			return TokenPair{}, err
		}
		obs.TokenReuseDetectedTotal.Inc()
		return TokenPair{}, ErrTokenReuse
	}

	now := s.now().UTC()
	refreshString, successor, err := s.generateRefreshToken(rec.UserID, rec.OrgID, rec.Role, rec.FamilyID, rec.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	won, err := s.store.Rotate(ctx, rec.ID, now, successor)
	if err != nil {
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !won {
		// Lost the active->rotated race. Strictly treated as a replay: the
		// cost of a false positive is a forced re-login.
		if err := s.revokeFamily(ctx, rec.FamilyID, "reuse"); err != nil {
			return TokenPair{}, err
		}
		obs.TokenReuseDetectedTotal.Inc()
		return TokenPair{}, ErrTokenReuse
	}

	accessToken, accessExp, err := s.signAccessToken(rec.UserID, rec.OrgID, rec.Role, now)
	if err != nil {
		return TokenPair{}, err
	}
	obs.TokenRotationsTotal.Inc()
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// Logout revokes the presented token's family. It is idempotent: unknown,
// expired or already revoked tokens are not an error. Storage faults are
// returned as errors.
func (s *Service) Logout(ctx context.Context, presented string) error {
	rec, err := s.lookup(ctx, presented)
	if errors.Is(err, ErrNoRefresh) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.revokeFamily(ctx, rec.FamilyID, "logout")
}

// VerifyAccess checks the access token signature and expiry. It performs no
// storage lookup.
func (s *Service) VerifyAccess(accessToken string) (*Claims, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PurgeExpired garbage-collects records expired for longer than grace.
func (s *Service) PurgeExpired(ctx context.Context, grace time.Duration) (int64, error) {
	return s.store.PurgeExpired(ctx, s.now().UTC().Add(-grace))
}

// lookup resolves a presented refresh token to its record. Parse failures,
// unknown ids, secret mismatches and expiry all collapse into ErrNoRefresh so
// callers cannot probe which part failed. Storage faults stay distinct: a
// backend outage is retryable and must not read as a dead session.
func (s *Service) lookup(ctx context.Context, presented string) (*RefreshTokenRecord, error) {
	id, secret, err := splitRefreshToken(presented)
	if err != nil {
		return nil, ErrNoRefresh
	}
	rec, err := s.store.Find(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrNoRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return nil, ErrNoRefresh
	}
	if s.now().UTC().After(rec.ExpiresAt) {
		return nil, ErrNoRefresh
	}
	return rec, nil
}

func (s *Service) revokeFamily(ctx context.Context, familyID, cause string) error {
	n, err := s.store.RevokeFamily(ctx, familyID)
	if err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	if n > 0 {
		obs.FamilyRevocationsTotal.WithLabelValues(cause).Inc()
	}
	return nil
}

func (s *Service) mint(ctx context.Context, userID, orgID, role, familyID, predecessorID string) (TokenPair, error) {
	now := s.now().UTC()

	accessToken, accessExp, err := s.signAccessToken(userID, orgID, role, now)
	if err != nil {
		return TokenPair{}, err
	}

	refreshString, rec, err := s.generateRefreshToken(userID, orgID, role, familyID, predecessorID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(userID, orgID, role string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		OrgID: orgID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) generateRefreshToken(userID, orgID, role, familyID, predecessorID string, now time.Time) (string, *RefreshTokenRecord, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshTokenRecord{
		ID:            tokenID,
		UserID:        userID,
		OrgID:         orgID,
		Role:          role,
		FamilyID:      familyID,
		State:         StateActive,
		TokenHash:     hex.EncodeToString(sum[:]),
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.refreshTTL),
		PredecessorID: predecessorID,
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
