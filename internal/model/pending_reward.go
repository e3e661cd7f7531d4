package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PendingReward is a stamp earned by an anonymous tap, held until the tapper
// authenticates. Only the SHA-256 of the claim token is stored.
type PendingReward struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TokenHash    string         `json:"-" gorm:"size:64;uniqueIndex;not null"`
	DeviceID     uuid.UUID      `json:"device_id" gorm:"type:uuid;not null;index"`
	RestaurantID *uuid.UUID     `json:"restaurant_id" gorm:"type:uuid"`
	Metadata     datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	ExpiresAt    time.Time      `json:"expires_at" gorm:"not null;index"`
	ClaimedAt    *time.Time     `json:"claimed_at"` // NULL = not yet claimed
	ClaimedBy    *uuid.UUID     `json:"claimed_by" gorm:"type:uuid"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (PendingReward) TableName() string { return "pending_rewards" }

func (p *PendingReward) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsClaimed checks if the reward has already been redeemed
func (p *PendingReward) IsClaimed() bool {
	return p.ClaimedAt != nil
}
