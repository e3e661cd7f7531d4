package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/auth"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"
	"gorm.io/gorm"
)

// AuthService handles authentication business logic. Every successful sign-in
// may carry the claim token of an anonymous tap, which is redeemed for the
// freshly authenticated user.
type AuthService struct {
	userRepo       *repository.UserRepository
	jwtManager     *auth.JWTManager
	blacklist      auth.Blacklist
	rewards        *RewardService
	googleClientID string
	validateGoogle func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
	log            *zap.Logger
}

func NewAuthService(
	userRepo *repository.UserRepository,
	jwtManager *auth.JWTManager,
	blacklist auth.Blacklist,
	rewards *RewardService,
	googleClientID string,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:       userRepo,
		jwtManager:     jwtManager,
		blacklist:      blacklist,
		rewards:        rewards,
		googleClientID: googleClientID,
		validateGoogle: idtoken.Validate,
		log:            log,
	}
}

// ==================== Register / Login (Email) ====================

// Register creates a new account and signs it in
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.LoginResponse, error) {
	email := normalizeEmail(req.Email)

	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, errors.New("email already registered")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New("failed to find user")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Password:     string(hashedPassword),
		AuthProvider: model.AuthProviderEmail,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, errors.New("failed to create user")
	}

	return s.signIn(ctx, user, req.PendingToken)
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid email or password")
		}
		return nil, errors.New("failed to find user")
	}

	// Check if user registered with Google (no password set)
	if user.AuthProvider == model.AuthProviderGoogle || user.Password == "" {
		return nil, errors.New("this account uses Google login. Please sign in with Google")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	return s.signIn(ctx, user, req.PendingToken)
}

// ==================== Login (Google) ====================

// LoginWithGoogle handles Google Sign-In logic
func (s *AuthService) LoginWithGoogle(ctx context.Context, req model.GoogleLoginRequest) (*model.LoginResponse, error) {
	// 1. Verify ID Token
	userInfo, err := s.verifyGoogleToken(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}

	// 2. Get or create user in DB
	user, err := s.userRepo.GetOrCreateGoogleUser(ctx, *userInfo)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	// 3. Issue token and redeem the pending tap, if any
	return s.signIn(ctx, user, req.PendingToken)
}

// verifyGoogleToken validates a Google ID token and extracts user info
func (s *AuthService) verifyGoogleToken(ctx context.Context, tokenString string) (*model.GoogleUserInfo, error) {
	if s.googleClientID == "" {
		return nil, errors.New("google login is not configured")
	}

	payload, err := s.validateGoogle(ctx, tokenString, s.googleClientID)
	if err != nil {
		return nil, fmt.Errorf("invalid google token: %w", err)
	}

	claims := payload.Claims
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, errors.New("email not found in token")
	}
	verified, _ := claims["email_verified"].(bool)
	if !verified {
		return nil, errors.New("google email is not verified")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = email
	}

	return &model.GoogleUserInfo{
		GoogleID: payload.Subject,
		Email:    normalizeEmail(email),
		Name:     name,
		Verified: verified,
	}, nil
}

// ==================== Session ====================

// Logout revokes the token for the rest of its lifetime
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return errutil.Unauthorized("invalid or expired token", err)
	}

	expiresIn := time.Until(claims.ExpiresAt.Time)
	if expiresIn <= 0 {
		return nil
	}

	if err := s.blacklist.Revoke(ctx, tokenString, expiresIn); err != nil {
		return errutil.Internal(err)
	}
	return nil
}

// GetProfile returns the current user's profile
func (s *AuthService) GetProfile(ctx context.Context, userID uuid.UUID) (*model.UserResponse, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, errors.New("user not found")
	}
	resp := user.ToResponse()
	return &resp, nil
}

// ==================== Internal Helpers ====================

func (s *AuthService) signIn(ctx context.Context, user *model.User, pendingToken string) (*model.LoginResponse, error) {
	token, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	return &model.LoginResponse{
		Token: token,
		User:  user.ToResponse(),
		Claim: s.redeemPending(ctx, user.ID, pendingToken),
	}, nil
}

// redeemPending never fails the sign-in; the outcome is reported alongside it.
func (s *AuthService) redeemPending(ctx context.Context, userID uuid.UUID, pendingToken string) *model.ClaimResult {
	if pendingToken == "" || s.rewards == nil {
		return nil
	}

	stamps, err := s.rewards.Redeem(ctx, pendingToken, userID)
	if err != nil {
		s.log.Info("pending reward not redeemed",
			zap.String("user_id", userID.String()),
			zap.String("reason", string(errutil.ReasonOf(err))),
			zap.Error(err),
		)
		return &model.ClaimResult{Redeemed: false, Reason: string(errutil.ReasonOf(err))}
	}

	return &model.ClaimResult{Redeemed: true, Stamps: stamps}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
