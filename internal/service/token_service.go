package service

import (
	"errors"
	"fmt"
	"time"

	"bizsuite-orchestrator/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
)

var errMissingTenant = errors.New("token has no tenant")

// operatorClaims is the admin API bearer payload. The acting user is the
// registered subject; the tenant scopes every saga and webhook query.
type operatorClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService with HS256 tokens.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	clock  clock.Clock
}

func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		clock:  clock.WallClock,
	}
}

// WithClock swaps the time source used for issuing and expiry checks.
func (s *JWTTokenService) WithClock(clk clock.Clock) *JWTTokenService {
	s.clock = clk
	return s
}

// Generate issues a token for an operator of tenantID. The identity
// provider is external; this exists for tooling and tests.
func (s *JWTTokenService) Generate(tenantID, userID string) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.expiry)

	claims := operatorClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	var claims operatorClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("parsing token: %w", jwt.ErrTokenInvalidSubject)
	}
	if claims.TenantID == "" {
		return nil, errMissingTenant
	}
	return &ports.TokenClaims{TenantID: claims.TenantID, UserID: claims.Subject}, nil
}
