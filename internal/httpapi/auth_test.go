package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posrider/backend/internal/domain"
	"posrider/backend/internal/store"
	"posrider/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return NewAuthManager(testSecret, time.Hour, repo), repo
}

var superAdmin = domain.Actor{ID: "u-super", Role: domain.RoleSuperAdmin}

func TestRegisterStoresPasswordHash(t *testing.T) {
	auth, repo := newTestAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, superAdmin, domain.RegisterRequest{
		Email: "  Rider.Baru@POS.com ", Password: "secret123", FullName: "Rider Baru",
	})
	require.NoError(t, err)
	assert.Equal(t, "rider.baru@pos.com", user.Email)
	assert.Equal(t, domain.RoleRider, user.Role)

	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	assert.True(t, isPasswordHash(stored.PasswordHash))
	assert.True(t, verifyPassword(stored.PasswordHash, "secret123"))
}

func TestRegisterValidation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor domain.Actor
		req   domain.RegisterRequest
		want  error
	}{
		{"rider cannot register", domain.Actor{ID: "r", Role: domain.RoleRider},
			domain.RegisterRequest{Email: "a@pos.com", Password: "secret123", FullName: "A"}, store.ErrForbidden},
		{"admin cannot create super admin", domain.Actor{ID: "a", Role: domain.RoleAdmin},
			domain.RegisterRequest{Email: "a@pos.com", Password: "secret123", FullName: "A", Role: domain.RoleSuperAdmin}, store.ErrForbidden},
		{"unknown role", superAdmin,
			domain.RegisterRequest{Email: "a@pos.com", Password: "secret123", FullName: "A", Role: "cashier"}, store.ErrValidation},
		{"bad email", superAdmin,
			domain.RegisterRequest{Email: "not-an-email", Password: "secret123", FullName: "A"}, store.ErrValidation},
		{"short password", superAdmin,
			domain.RegisterRequest{Email: "a@pos.com", Password: "123", FullName: "A"}, store.ErrValidation},
		{"missing name", superAdmin,
			domain.RegisterRequest{Email: "a@pos.com", Password: "secret123"}, store.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Register(ctx, tc.actor, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	user, err := auth.Register(ctx, superAdmin, domain.RegisterRequest{
		Email: "rider@pos.com", Password: "secret123", FullName: "Rider",
	})
	require.NoError(t, err)

	resp, err := auth.Login(ctx, domain.LoginRequest{Email: "rider@pos.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: user.ID, Role: domain.RoleRider}, actor)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth, _ := newTestAuth(t)

	other := NewAuthManager(strings.Repeat("x", 40), time.Hour, nil)
	foreign, err := other.sign("u-1", domain.RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)

	expired, err := auth.sign("u-1", domain.RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, riderClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "u-1", ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             domain.RoleSuperAdmin,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(raw)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)

	badRole, err := auth.sign("u-1", "cashier", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(badRole)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestUpdateProfileValidation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()
	user, err := auth.Register(ctx, superAdmin, domain.RegisterRequest{
		Email: "rider@pos.com", Password: "secret123", FullName: "Rider",
	})
	require.NoError(t, err)
	actor := domain.Actor{ID: user.ID, Role: user.Role}

	blank := "  "
	_, err = auth.UpdateProfile(ctx, actor, domain.ProfileUpdateRequest{FullName: &blank})
	assert.ErrorIs(t, err, store.ErrValidation)

	phone := " 0812 "
	updated, err := auth.UpdateProfile(ctx, actor, domain.ProfileUpdateRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "0812", updated.Phone)
	assert.Equal(t, "Rider", updated.FullName)

	_, err = auth.UpdateProfile(ctx, domain.Actor{ID: "ghost", Role: domain.RoleRider}, domain.ProfileUpdateRequest{Phone: &phone})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
