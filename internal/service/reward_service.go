package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const claimTokenBytes = 32

// RewardService commits taps: it advances the device counter and either
// credits a stamp or parks it behind a claim token, in one transaction.
type RewardService struct {
	db      *gorm.DB
	devices *repository.DeviceRepository
	txns    *repository.TransactionRepository
	cards   *repository.LoyaltyRepository
	rewards *repository.PendingRewardRepository
	cfg     config.TapConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewRewardService(
	db *gorm.DB,
	devices *repository.DeviceRepository,
	txns *repository.TransactionRepository,
	cards *repository.LoyaltyRepository,
	rewards *repository.PendingRewardRepository,
	cfg config.TapConfig,
	log *zap.Logger,
) *RewardService {
	return &RewardService{
		db:      db,
		devices: devices,
		txns:    txns,
		cards:   cards,
		rewards: rewards,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Award commits counter for the device and credits one stamp to userID. It
// returns the card's current balance.
func (s *RewardService) Award(ctx context.Context, device *model.NFCDevice, counter int64, userID uuid.UUID, meta model.TapMetadata) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.now()
	var stamps int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.commitCounter(ctx, tx, device.ID, counter, now); err != nil {
			return err
		}
		card, err := s.credit(ctx, tx, userID, device.ID, device.AssignedRestaurantID, model.TransactionSourceTap, meta, now)
		if err != nil {
			return err
		}
		stamps = card.CurrentStamps
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return stamps, nil
}

// Defer commits counter for the device and stores a pending reward for an
// anonymous tapper. The plaintext token is returned once and never stored.
func (s *RewardService) Defer(ctx context.Context, device *model.NFCDevice, counter int64, meta model.TapMetadata) (string, time.Time, error) {
	token, tokenHash, err := newClaimToken()
	if err != nil {
		return "", time.Time{}, errutil.Internal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.now()
	expiresAt := now.Add(s.cfg.ClaimTTL)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.commitCounter(ctx, tx, device.ID, counter, now); err != nil {
			return err
		}
		metadata, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return s.rewards.WithTx(tx).Create(ctx, &model.PendingReward{
			TokenHash:    tokenHash,
			DeviceID:     device.ID,
			RestaurantID: device.AssignedRestaurantID,
			Metadata:     datatypes.JSON(metadata),
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return "", time.Time{}, classify(err)
	}
	return token, expiresAt, nil
}

// Redeem spends a claim token on behalf of userID and credits the stamp it
// stands for. A token is good once, strictly before its expiry.
func (s *RewardService) Redeem(ctx context.Context, token string, userID uuid.UUID) (int, error) {
	if token == "" {
		return 0, errutil.ClaimInvalid(nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.now()
	var stamps int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reward, err := s.rewards.WithTx(tx).Claim(ctx, HashClaimToken(token), userID, now)
		if err != nil {
			if errors.Is(err, repository.ErrRewardUnavailable) {
				return errutil.ClaimInvalid(err)
			}
			return err
		}

		var meta model.TapMetadata
		if len(reward.Metadata) > 0 {
			if err := json.Unmarshal(reward.Metadata, &meta); err != nil {
				s.log.Warn("unreadable pending reward metadata", zap.String("reward_id", reward.ID.String()), zap.Error(err))
			}
		}
		meta.ClaimID = &reward.ID

		card, err := s.credit(ctx, tx, userID, reward.DeviceID, reward.RestaurantID, model.TransactionSourceClaim, meta, now)
		if err != nil {
			return err
		}
		stamps = card.CurrentStamps
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return stamps, nil
}

// Cards lists the stamp cards of a user
func (s *RewardService) Cards(ctx context.Context, userID uuid.UUID) ([]model.CardResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	cards, err := s.cards.ListByUser(ctx, userID)
	if err != nil {
		return nil, errutil.Internal(err)
	}

	resp := make([]model.CardResponse, 0, len(cards))
	for _, c := range cards {
		item := model.CardResponse{
			CurrentStamps:  c.CurrentStamps,
			LifetimeStamps: c.LifetimeStamps,
			UpdatedAt:      c.UpdatedAt,
		}
		if c.RestaurantID != uuid.Nil {
			item.RestaurantID = c.RestaurantID.String()
		}
		resp = append(resp, item)
	}
	return resp, nil
}

// commitCounter advances the device counter and re-checks the rate limit while
// the device row is locked by the update.
func (s *RewardService) commitCounter(ctx context.Context, tx *gorm.DB, deviceID uuid.UUID, counter int64, now time.Time) error {
	advanced, err := s.devices.WithTx(tx).AdvanceCounter(ctx, deviceID, counter)
	if err != nil {
		return fmt.Errorf("failed to advance counter: %w", err)
	}
	if !advanced {
		return errutil.ReplayDetected(nil)
	}

	if s.cfg.RateLimitWindow <= 0 {
		return nil
	}
	recent, err := s.recentlyRewarded(ctx, tx, deviceID, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return fmt.Errorf("failed to check rate limit: %w", err)
	}
	if recent {
		return errutil.RateLimited()
	}
	return nil
}

// RecentlyRewarded reports whether the device produced a stamp or a pending
// reward at or after since. Both count toward the device's rate limit.
func (s *RewardService) RecentlyRewarded(ctx context.Context, deviceID uuid.UUID, since time.Time) (bool, error) {
	return s.recentlyRewarded(ctx, s.db, deviceID, since)
}

func (s *RewardService) recentlyRewarded(ctx context.Context, db *gorm.DB, deviceID uuid.UUID, since time.Time) (bool, error) {
	recent, err := s.txns.WithTx(db).ExistsForDeviceSince(ctx, deviceID, since)
	if err != nil || recent {
		return recent, err
	}
	return s.rewards.WithTx(db).ExistsForDeviceSince(ctx, deviceID, since)
}

func (s *RewardService) credit(
	ctx context.Context,
	tx *gorm.DB,
	userID, deviceID uuid.UUID,
	restaurantID *uuid.UUID,
	source model.TransactionSource,
	meta model.TapMetadata,
	now time.Time,
) (*model.LoyaltyCard, error) {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	txn := &model.LoyaltyTransaction{
		UserID:       userID,
		DeviceID:     deviceID,
		RestaurantID: restaurantID,
		Type:         model.TransactionTypeStamp,
		Source:       source,
		Stamps:       1,
		Metadata:     datatypes.JSON(metadata),
		CreatedAt:    now,
	}
	if err := s.txns.WithTx(tx).Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	card, err := s.cards.WithTx(tx).AddStamps(ctx, userID, model.CardRestaurant(restaurantID), 1, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update card: %w", err)
	}
	return card, nil
}

// classify maps a failed commit to its reason. Coded errors pass through;
// an expired context means the outcome is unknown and is never an award.
func classify(err error) error {
	var be errutil.BaseError
	if errors.As(err, &be) {
		return err
	}
	if errutil.IsTimeout(err) {
		return errutil.Internal(err)
	}
	return errutil.AwardFailed(err)
}

// HashClaimToken returns the stored form of a claim token
func HashClaimToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newClaimToken() (token, tokenHash string, err error) {
	buf := make([]byte, claimTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate claim token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashClaimToken(token), nil
}
