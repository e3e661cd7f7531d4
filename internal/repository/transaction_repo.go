package repository

import (
	"context"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionRepository handles the append-only loyalty ledger
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// Create appends a transaction
func (r *TransactionRepository) Create(ctx context.Context, txn *model.LoyaltyTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// ExistsForDeviceSince reports whether any transaction for the device was
// recorded at or after since (rate limiting)
func (r *TransactionRepository) ExistsForDeviceSince(ctx context.Context, deviceID uuid.UUID, since time.Time) (bool, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.LoyaltyTransaction{}).
		Where("device_id = ? AND created_at >= ?", deviceID, since).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// CountByDevice counts the ledger rows of a device
func (r *TransactionRepository) CountByDevice(ctx context.Context, deviceID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LoyaltyTransaction{}).
		Where("device_id = ?", deviceID).
		Count(&count).Error
	return count, err
}
