package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionType string

const TransactionTypeStamp TransactionType = "stamp"

// TransactionSource records how a stamp reached the ledger
type TransactionSource string

const (
	TransactionSourceTap   TransactionSource = "tap"
	TransactionSourceClaim TransactionSource = "claim"
)

// LoyaltyTransaction is an append-only ledger row, one per awarded stamp. It is
// also the lookback window for per-device rate limiting.
type LoyaltyTransaction struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	DeviceID     uuid.UUID         `json:"device_id" gorm:"type:uuid;not null;index:idx_loyalty_tx_device_created,priority:1"`
	RestaurantID *uuid.UUID        `json:"restaurant_id" gorm:"type:uuid"`
	Type         TransactionType   `json:"type" gorm:"size:20;not null;default:'stamp'"`
	Source       TransactionSource `json:"source" gorm:"size:20;not null"`
	Stamps       int               `json:"stamps" gorm:"not null;default:1"`
	Metadata     datatypes.JSON    `json:"metadata" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;index:idx_loyalty_tx_device_created,priority:2"`
}

func (LoyaltyTransaction) TableName() string { return "loyalty_transactions" }

func (t *LoyaltyTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
