package jwt

import (
	"testing"
	"time"

	"github.com/dumeirei/mall-ledger/internal/common/config"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "mall-ledger", AccessTokenExpire: 1})
}

func TestGenerateAndParse(t *testing.T) {
	m := newTestManager()
	token, err := m.GenerateAccessToken(42, UserTypeAdmin, RoleFinance)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, UserTypeAdmin, claims.UserType)
	assert.True(t, claims.CanOperateFinance())
}

func TestParseToken_Invalid(t *testing.T) {
	m := newTestManager()

	_, err := m.ParseToken("garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := NewManager(&config.JWTConfig{Secret: "another", Issuer: "mall-ledger", AccessTokenExpire: 1})
	token, _ := other.GenerateAccessToken(1, UserTypeUser, "")
	_, err = m.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	wrongIssuer := NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "someone-else", AccessTokenExpire: 1})
	token, _ = wrongIssuer.GenerateAccessToken(1, UserTypeUser, "")
	_, err = m.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseToken_Expired(t *testing.T) {
	m := newTestManager()
	claims := &Claims{
		UserID:   7,
		UserType: UserTypeUser,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "mall-ledger",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestCanOperateFinance(t *testing.T) {
	assert.True(t, (&Claims{UserType: UserTypeAdmin, Role: RoleSuper}).CanOperateFinance())
	assert.False(t, (&Claims{UserType: UserTypeAdmin, Role: "operator"}).CanOperateFinance())
	assert.False(t, (&Claims{UserType: UserTypeUser, Role: RoleFinance}).CanOperateFinance())
}
