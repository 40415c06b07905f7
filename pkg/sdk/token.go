package sdk

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// TokenClaims are the claims the client reads from an access token.
type TokenClaims struct {
	Subject   string `mapstructure:"sub"`
	UserID    string `mapstructure:"user_id"`
	Email     string `mapstructure:"email"`
	Name      string `mapstructure:"name"`
	Picture   string `mapstructure:"picture"`
	Role      string `mapstructure:"role"`
	RoleID    int64  `mapstructure:"role_id"`
	TokenType string `mapstructure:"token_type"`
	JTI       string `mapstructure:"jti"`
}

// TokenInfo is a decoded, unverified access token.
type TokenInfo struct {
	Claims    TokenClaims
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       jwt.MapClaims
}

// ExpiryMillis returns the expiry as epoch milliseconds.
func (t *TokenInfo) ExpiryMillis() int64 {
	return t.ExpiresAt.Unix() * 1000
}

// Expired reports whether the token has expired at now.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

var tokenParser = jwt.NewParser()

// DecodeToken extracts the claims of a signed JWT without verifying the
// signature. Verification is the backend's job. A token that is not a
// three-segment JWT, has no signature, has an undecodable payload, or has no
// expiry claim yields a KindMalformedToken error.
func DecodeToken(token string) (*TokenInfo, error) {
	if token == "" {
		return nil, newError(KindMalformedToken, "decode_token", fmt.Errorf("empty token"))
	}

	claims := jwt.MapClaims{}
	_, parts, err := tokenParser.ParseUnverified(token, claims)
	if err != nil {
		return nil, newError(KindMalformedToken, "decode_token", err)
	}
	if len(parts) != 3 || parts[2] == "" {
		return nil, newError(KindMalformedToken, "decode_token", fmt.Errorf("token is not signed"))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, newError(KindMalformedToken, "decode_token", err)
	}
	if exp == nil {
		return nil, newError(KindMalformedToken, "decode_token", fmt.Errorf("token has no exp claim"))
	}

	info := &TokenInfo{ExpiresAt: exp.Time, Raw: claims}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &info.Claims,
	})
	if err != nil {
		return nil, newError(KindMalformedToken, "decode_token", err)
	}
	if err := decoder.Decode(map[string]interface{}(claims)); err != nil {
		return nil, newError(KindMalformedToken, "decode_token", fmt.Errorf("decode claims: %w", err))
	}
	return info, nil
}

// TokenExpiry returns the expiry of token as epoch milliseconds.
func TokenExpiry(token string) (int64, error) {
	info, err := DecodeToken(token)
	if err != nil {
		return 0, err
	}
	return info.ExpiryMillis(), nil
}
