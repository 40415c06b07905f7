package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken is wrapped by every Parse failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of staffgrid access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Picture   string `json:"picture,omitempty"`
	Role      string `json:"role,omitempty"`
	RoleID    int64  `json:"role_id,omitempty"`
	TokenType string `json:"token_type"`
}

// Identity is what the issuer needs to know about the token subject.
type Identity struct {
	UserID  string
	Email   string
	Name    string
	Picture string
	Role    string
	RoleID  int64
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	Access           string
	Refresh          string
	RefreshJTI       string
	RefreshExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates an issuer with the given signing key and lifetimes.
func NewTokenIssuer(key []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// WithClock replaces the issuer's time source.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// Issue signs a new access and refresh token for id.
func (i *TokenIssuer) Issue(id Identity) (*TokenPair, error) {
	now := i.now()

	access, err := i.sign(id, TokenTypeAccess, uuid.NewString(), now, now.Add(i.accessTTL))
	if err != nil {
		return nil, err
	}

	refreshJTI := uuid.NewString()
	refreshExp := now.Add(i.refreshTTL)
	refresh, err := i.sign(Identity{UserID: id.UserID}, TokenTypeRefresh, refreshJTI, now, refreshExp)
	if err != nil {
		return nil, err
	}

	return &TokenPair{Access: access, Refresh: refresh, RefreshJTI: refreshJTI, RefreshExpiresAt: refreshExp}, nil
}

func (i *TokenIssuer) sign(id Identity, tokenType, jti string, iat, exp time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:    id.UserID,
		Email:     id.Email,
		Name:      id.Name,
		Picture:   id.Picture,
		Role:      id.Role,
		RoleID:    id.RoleID,
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of token and checks its type.
func (i *TokenIssuer) Parse(token, wantType string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, wantType, claims.TokenType)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}
