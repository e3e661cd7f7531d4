package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoyaltyCard is the running stamp balance of a user at a restaurant.
// RestaurantID is uuid.Nil for devices not assigned to a restaurant.
type LoyaltyCard struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_loyalty_card_owner,priority:1"`
	RestaurantID   uuid.UUID `json:"restaurant_id" gorm:"type:uuid;not null;uniqueIndex:idx_loyalty_card_owner,priority:2"`
	CurrentStamps  int       `json:"current_stamps" gorm:"not null;default:0"`
	LifetimeStamps int       `json:"lifetime_stamps" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (LoyaltyCard) TableName() string { return "loyalty_cards" }

func (c *LoyaltyCard) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CardRestaurant maps an optional restaurant reference to the card key
func CardRestaurant(restaurantID *uuid.UUID) uuid.UUID {
	if restaurantID == nil {
		return uuid.Nil
	}
	return *restaurantID
}
