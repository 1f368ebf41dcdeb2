package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/teapot/internal/model"
)

func TestToken(t *testing.T) {
	user := model.User{ID: "u-1", Data: model.UserData{Username: "clerk", Role: model.RoleInventory}}

	tokenString, err := BuildJWTString(user, "at-1", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := GetClaims(tokenString, "secret")
	require.NoError(t, err)
	require.Equal(t, user, claims.User())
	require.Equal(t, "at-1", claims.Session)

	// чужой ключ
	_, err = GetClaims(tokenString, "other")
	require.ErrorIs(t, err, ErrInvalidToken)

	// истекший токен
	expired, err := BuildJWTString(user, "", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = GetClaims(expired, "secret")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = GetClaims("garbage", "secret")
	require.ErrorIs(t, err, ErrInvalidToken)
}
