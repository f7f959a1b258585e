package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp *time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "42"}
	if exp != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-only-secret"))
	require.NoError(t, err)
	return tok
}

func TestRoles(t *testing.T) {
	assert.Len(t, ValidRoles(), 7)
	for _, r := range ValidRoles() {
		assert.True(t, IsValidRole(r), r)
	}
	assert.False(t, IsValidRole("customer"))
	assert.False(t, IsValidRole("RETAIL"))

	assert.True(t, IsWholesale(RoleWholesaleLevel2))
	assert.False(t, IsWholesale(RoleTrainer))
}

func TestUser_UnmarshalNumericID(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"email":"test@example.com","role":"retail"}`), &u))
	assert.Equal(t, UserID("1"), u.ID)
	assert.Equal(t, "test@example.com", u.Email)
	assert.Equal(t, RoleRetail, u.Role)
	assert.False(t, u.IsWholesale())
}

func TestUser_UnmarshalStringID(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b5c1","role":"wholesale_level3","company_name":"SV Blau"}`), &u))
	assert.Equal(t, UserID("b5c1"), u.ID)
	assert.True(t, u.IsWholesale())
}

func TestUser_UnmarshalBadID(t *testing.T) {
	var u User
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &u))
}

func TestNilUserIsNotWholesale(t *testing.T) {
	var u *User
	assert.False(t, u.IsWholesale())
}

func TestLoginResult_Decode(t *testing.T) {
	var res LoginResult
	body := `{"access":"a1","refresh":"r1","user":{"id":7,"email":"coach@club.de","role":"trainer"}}`
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, "a1", res.Access)
	assert.Equal(t, "r1", res.Refresh)
	require.NotNil(t, res.User)
	assert.Equal(t, UserID("7"), res.User.ID)
}

func TestSession_HidesTokensInJSON(t *testing.T) {
	b, err := json.Marshal(Session{AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"a"`)
	assert.NotContains(t, string(b), `"r"`)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := TokenExpiry(signedToken(t, &exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry(signedToken(t, nil))
	assert.False(t, ok)

	_, ok = TokenExpiry("opaque-refresh-token")
	assert.False(t, ok)

	_, ok = TokenExpiry("")
	assert.False(t, ok)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, TokenExpired(signedToken(t, &past), now))
	assert.False(t, TokenExpired(signedToken(t, &future), now))
	assert.False(t, TokenExpired("valid-refresh-token", now))
}
