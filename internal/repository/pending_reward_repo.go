package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRewardUnavailable is returned when a claim token is unknown, expired or spent
var ErrRewardUnavailable = errors.New("pending reward unavailable")

// PendingRewardRepository handles deferred rewards from anonymous taps
type PendingRewardRepository struct {
	db *gorm.DB
}

func NewPendingRewardRepository(db *gorm.DB) *PendingRewardRepository {
	return &PendingRewardRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *PendingRewardRepository) WithTx(tx *gorm.DB) *PendingRewardRepository {
	return &PendingRewardRepository{db: tx}
}

// Create inserts a new pending reward
func (r *PendingRewardRepository) Create(ctx context.Context, reward *model.PendingReward) error {
	return r.db.WithContext(ctx).Create(reward).Error
}

// FindByTokenHash finds a pending reward by the hash of its token
func (r *PendingRewardRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.PendingReward, error) {
	var reward model.PendingReward
	err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&reward).Error
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// Claim marks the reward as claimed by userID if it is unclaimed and not
// expired at now. The conditional update makes a token spendable once even
// under concurrent redemption.
func (r *PendingRewardRepository) Claim(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) (*model.PendingReward, error) {
	res := r.db.WithContext(ctx).Model(&model.PendingReward{}).
		Where("token_hash = ? AND claimed_at IS NULL AND expires_at > ?", tokenHash, now).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"claimed_by": userID,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, ErrRewardUnavailable
	}
	return r.FindByTokenHash(ctx, tokenHash)
}

// ExistsForDeviceSince reports whether the device parked a reward at or after
// since, claimed or not
func (r *PendingRewardRepository) ExistsForDeviceSince(ctx context.Context, deviceID uuid.UUID, since time.Time) (bool, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.PendingReward{}).
		Where("device_id = ? AND created_at >= ?", deviceID, since).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// CleanupExpired removes expired, unclaimed rewards (housekeeping)
func (r *PendingRewardRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ? AND claimed_at IS NULL", now).
		Delete(&model.PendingReward{})
	return res.RowsAffected, res.Error
}
