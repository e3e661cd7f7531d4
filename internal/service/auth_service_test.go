package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/auth"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
	err     error
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{revoked: map[string]time.Duration{}}
}

func (b *memoryBlacklist) Revoke(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.revoked[token] = ttl
	return nil
}

func (b *memoryBlacklist) IsRevoked(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.revoked[token]
	return ok, nil
}

type authFixture struct {
	*tapFixture
	auth      *AuthService
	jwt       *auth.JWTManager
	blacklist *memoryBlacklist
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := newTapFixture(t, nil)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	blacklist := newMemoryBlacklist()
	svc := NewAuthService(repository.NewUserRepository(f.db), jwtManager, blacklist, f.rewards, "client-id", zap.NewNop())
	return &authFixture{tapFixture: f, auth: svc, jwt: jwtManager, blacklist: blacklist}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.auth.Register(ctx, model.RegisterRequest{Name: "Ana", Email: "Ana@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, "ana@example.com", resp.User.Email)
	require.Nil(t, resp.Claim)

	_, err = f.auth.Register(ctx, model.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "secret1"})
	require.Error(t, err)

	login, err := f.auth.Login(ctx, model.LoginRequest{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	claims, err := f.jwt.ValidateToken(login.Token)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, claims.UserID)

	_, err = f.auth.Login(ctx, model.LoginRequest{Email: "ana@example.com", Password: "wrong-pass"})
	require.Error(t, err)

	_, err = f.auth.Login(ctx, model.LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	require.Error(t, err)
}

func TestLoginRedeemsPendingTap(t *testing.T) {
	f := newAuthFixture(t)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	ctx := context.Background()

	outcome, err := f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.NoError(t, err)
	require.Equal(t, model.TapStatusDeferred, outcome.Status)

	resp, err := f.auth.Register(ctx, model.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "secret1", PendingToken: outcome.ClaimToken})
	require.NoError(t, err)
	require.Equal(t, &model.ClaimResult{Redeemed: true, Stamps: 1}, resp.Claim)

	login, err := f.auth.Login(ctx, model.LoginRequest{Email: "ana@example.com", Password: "secret1", PendingToken: outcome.ClaimToken})
	require.NoError(t, err)
	require.Equal(t, &model.ClaimResult{Redeemed: false, Reason: string(errutil.ReasonClaimInvalid)}, login.Claim)
}

func TestLoginWithGoogle(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.auth.validateGoogle = func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		require.Equal(t, "client-id", audience)
		if token != "good" {
			return nil, errors.New("bad token")
		}
		return &idtoken.Payload{
			Subject: "google-123",
			Claims: map[string]interface{}{
				"email":          "diner@example.com",
				"email_verified": true,
				"name":           "Diner",
			},
		}, nil
	}

	resp, err := f.auth.LoginWithGoogle(ctx, model.GoogleLoginRequest{IDToken: "good"})
	require.NoError(t, err)
	require.Equal(t, model.AuthProviderGoogle, resp.User.AuthProvider)

	again, err := f.auth.LoginWithGoogle(ctx, model.GoogleLoginRequest{IDToken: "good"})
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, again.User.ID)

	_, err = f.auth.LoginWithGoogle(ctx, model.GoogleLoginRequest{IDToken: "forged"})
	require.Error(t, err)

	_, err = f.auth.Login(ctx, model.LoginRequest{Email: "diner@example.com", Password: "secret1"})
	require.Error(t, err)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.auth.Register(ctx, model.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	resolver := NewTokenIdentityResolver(f.jwt, f.blacklist, time.Second, zap.NewNop())
	id := resolver.Resolve(ctx, resp.Token)
	require.NotNil(t, id)
	require.Equal(t, resp.User.ID, id.UserID)

	require.NoError(t, f.auth.Logout(ctx, resp.Token))
	require.Nil(t, resolver.Resolve(ctx, resp.Token))

	require.ErrorIs(t, f.auth.Logout(ctx, "garbage"), errutil.ErrUnauthorized)
}

func TestIdentityResolverFallsBackToAnonymous(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	blacklist := newMemoryBlacklist()
	resolver := NewTokenIdentityResolver(jwtManager, blacklist, time.Second, zap.NewNop())
	ctx := context.Background()

	require.Nil(t, resolver.Resolve(ctx, ""))
	require.Nil(t, resolver.Resolve(ctx, "not-a-jwt"))

	other, err := auth.NewJWTManager("other-secret", time.Hour).GenerateToken(uuid.New(), "a@b.c", "A")
	require.NoError(t, err)
	require.Nil(t, resolver.Resolve(ctx, other))

	token, err := jwtManager.GenerateToken(uuid.New(), "a@b.c", "A")
	require.NoError(t, err)
	require.NotNil(t, resolver.Resolve(ctx, token))

	blacklist.err = errors.New("connection refused")
	require.Nil(t, resolver.Resolve(ctx, token))
}

// stalledBlacklist never answers until its context gives up
type stalledBlacklist struct {
	hadDeadline bool
}

func (b *stalledBlacklist) Revoke(context.Context, string, time.Duration) error {
	return nil
}

func (b *stalledBlacklist) IsRevoked(ctx context.Context, _ string) (bool, error) {
	_, b.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return false, ctx.Err()
}

func TestIdentityResolverBoundsBlacklistLookup(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	blacklist := &stalledBlacklist{}
	resolver := NewTokenIdentityResolver(jwtManager, blacklist, 20*time.Millisecond, zap.NewNop())

	token, err := jwtManager.GenerateToken(uuid.New(), "a@b.c", "A")
	require.NoError(t, err)

	start := time.Now()
	require.Nil(t, resolver.Resolve(context.Background(), token))
	require.True(t, blacklist.hadDeadline)
	require.Less(t, time.Since(start), 5*time.Second)
}
