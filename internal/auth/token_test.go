package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

func TestTokenManager_IssueVerify(t *testing.T) {
	m := NewTokenManager("secret", "clinic-appointments", time.Hour)
	id := uuid.New()

	token, err := m.Issue(id, appointment.RoleDoctor)
	require.NoError(t, err)

	got, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, appointment.RoleDoctor, got.Role)
}

func TestTokenManager_RejectsUnknownRole(t *testing.T) {
	m := NewTokenManager("secret", "clinic-appointments", time.Hour)
	_, err := m.Issue(uuid.New(), "nurse")
	assert.Error(t, err)
}

func TestTokenManager_RejectsBadTokens(t *testing.T) {
	m := NewTokenManager("secret", "clinic-appointments", time.Hour)
	id := uuid.New()

	other := NewTokenManager("another-secret", "clinic-appointments", time.Hour)
	foreign, err := other.Issue(id, appointment.RoleUser)
	require.NoError(t, err)

	wrongIssuer := NewTokenManager("secret", "someone-else", time.Hour)
	misissued, err := wrongIssuer.Issue(id, appointment.RoleUser)
	require.NoError(t, err)

	expiredMgr := NewTokenManager("secret", "clinic-appointments", time.Minute)
	expiredMgr.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredMgr.Issue(id, appointment.RoleUser)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    "clinic-appointments",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: appointment.RoleUser,
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "abc.def.ghi",
		"wrong secret": foreign,
		"wrong issuer": misissued,
		"expired":      expired,
		"bad subject":  badSubject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = BearerToken("bearer   xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer a b"} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	want := Identity{ID: uuid.New(), Role: appointment.RoleAdmin}
	got, ok := FromContext(WithIdentity(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
