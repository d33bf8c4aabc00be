package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
)

type Claims struct {
	jwt.RegisteredClaims
	TenantID string    `json:"tenant_id"`
	Type     TokenType `json:"typ"`
}

// TokenPair is returned by the token-obtain endpoint.
type TokenPair struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(signingKey []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		key:        signingKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates an access and refresh token for the user in a tenant.
func (i *TokenIssuer) Issue(userID, tenantID string) (TokenPair, error) {
	access, err := i.sign(userID, tenantID, TokenAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(userID, tenantID, TokenRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		Access:    access,
		Refresh:   refresh,
		TokenType: "Bearer",
		ExpiresIn: int(i.accessTTL.Seconds()),
	}, nil
}

// IssueAccess creates a fresh access token carrying the identity of claims.
func (i *TokenIssuer) IssueAccess(claims *Claims) (string, error) {
	return i.sign(claims.Subject, claims.TenantID, TokenAccess, i.accessTTL)
}

// AccessTTL reports the lifetime of issued access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

func (i *TokenIssuer) sign(userID, tenantID string, typ TokenType, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Type:     typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Parse verifies signature, expiry and type of a token.
func (i *TokenIssuer) Parse(tokenStr string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidToken)
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
