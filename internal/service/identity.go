package service

import (
	"context"
	"time"

	"github.com/aionloyalty/aion/pkg/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the authenticated tapper
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// IdentityResolver turns an optional bearer token into an identity. It never
// fails: anything short of a valid token is anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context, bearer string) *Identity
}

// TokenIdentityResolver validates JWTs issued by AuthService and consults the
// revocation blacklist.
type TokenIdentityResolver struct {
	jwt       *auth.JWTManager
	blacklist auth.Blacklist
	timeout   time.Duration
	log       *zap.Logger
}

// NewTokenIdentityResolver bounds each blacklist lookup by timeout; a lookup
// that runs out of time resolves to anonymous.
func NewTokenIdentityResolver(jwtManager *auth.JWTManager, blacklist auth.Blacklist, timeout time.Duration, log *zap.Logger) *TokenIdentityResolver {
	return &TokenIdentityResolver{jwt: jwtManager, blacklist: blacklist, timeout: timeout, log: log}
}

func (r *TokenIdentityResolver) Resolve(ctx context.Context, bearer string) *Identity {
	if bearer == "" {
		return nil
	}

	claims, err := r.jwt.ValidateToken(bearer)
	if err != nil {
		r.log.Debug("ignoring invalid bearer token", zap.Error(err))
		return nil
	}

	if r.blacklist != nil {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		revoked, err := r.blacklist.IsRevoked(ctx, bearer)
		if err != nil {
			// Treat as anonymous; the reward is deferred, not lost.
			r.log.Warn("token blacklist unavailable", zap.Error(err))
			return nil
		}
		if revoked {
			return nil
		}
	}

	return &Identity{UserID: claims.UserID, Email: claims.Email}
}
