package sdk_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

func TestDecodeToken_ExtractsClaims(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{
		"sub":        "user-42",
		"user_id":    42,
		"email":      "a@x.com",
		"name":       "Ada Lovelace",
		"role":       "Manager",
		"role_id":    1,
		"token_type": "access",
		"iat":        1699996400,
		"exp":        1700000000,
	})

	info, err := sdk.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", info.Claims.Subject)
	assert.Equal(t, "42", info.Claims.UserID)
	assert.Equal(t, "a@x.com", info.Claims.Email)
	assert.Equal(t, "Manager", info.Claims.Role)
	assert.Equal(t, int64(1), info.Claims.RoleID)
	assert.Equal(t, "access", info.Claims.TokenType)
	assert.Equal(t, int64(1699996400), info.IssuedAt.Unix())
	assert.Equal(t, int64(1700000000000), info.ExpiryMillis())
}

func TestTokenExpiry_Millis(t *testing.T) {
	token := mintToken(t, jwt.MapClaims{"sub": "u", "exp": 1700000000})

	expiry, err := sdk.TokenExpiry(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), expiry)
}

func TestDecodeToken_SignatureIsNotVerified(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": 1700000000}).
		SignedString([]byte("some-other-key"))
	require.NoError(t, err)

	_, err = sdk.DecodeToken(signed)
	assert.NoError(t, err)
}

func TestDecodeToken_Malformed(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u", "exp": 1700000000}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "not a jwt", token: "not-a-token"},
		{name: "two segments", token: "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1In0"},
		{name: "garbage payload", token: "eyJhbGciOiJIUzI1NiJ9.!!!.c2ln"},
		{name: "unsigned", token: unsigned},
		{name: "missing exp", token: mintToken(t, jwt.MapClaims{"sub": "u"})},
		{name: "non-numeric exp", token: mintToken(t, jwt.MapClaims{"sub": "u", "exp": "tomorrow"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sdk.DecodeToken(tt.token)
			require.Error(t, err)
			assert.True(t, sdk.IsKind(err, sdk.KindMalformedToken), "got %v", err)
		})
	}
}

func TestTokenInfo_Expired(t *testing.T) {
	info, err := sdk.DecodeToken(mintToken(t, jwt.MapClaims{"sub": "u", "exp": 1700000000}))
	require.NoError(t, err)

	assert.False(t, info.Expired(time.Unix(1699999999, 0)))
	assert.True(t, info.Expired(time.Unix(1700000000, 0)))
}
