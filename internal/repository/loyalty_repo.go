package repository

import (
	"context"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoyaltyRepository handles stamp card balances
type LoyaltyRepository struct {
	db *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *LoyaltyRepository) WithTx(tx *gorm.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: tx}
}

// AddStamps credits stamps to the user's card at a restaurant, creating the
// card on first use, and returns the updated card
func (r *LoyaltyRepository) AddStamps(ctx context.Context, userID, restaurantID uuid.UUID, stamps int, now time.Time) (*model.LoyaltyCard, error) {
	card := model.LoyaltyCard{
		UserID:         userID,
		RestaurantID:   restaurantID,
		CurrentStamps:  stamps,
		LifetimeStamps: stamps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Upsert: on conflict add to the existing balance
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "restaurant_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"current_stamps":  gorm.Expr("loyalty_cards.current_stamps + ?", stamps),
			"lifetime_stamps": gorm.Expr("loyalty_cards.lifetime_stamps + ?", stamps),
			"updated_at":      now,
		}),
	}).Create(&card).Error
	if err != nil {
		return nil, err
	}

	return r.FindCard(ctx, userID, restaurantID)
}

// FindCard finds the card of a user at a restaurant
func (r *LoyaltyRepository) FindCard(ctx context.Context, userID, restaurantID uuid.UUID) (*model.LoyaltyCard, error) {
	var card model.LoyaltyCard
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND restaurant_id = ?", userID, restaurantID).
		First(&card).Error
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// ListByUser returns all cards of a user
func (r *LoyaltyRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.LoyaltyCard, error) {
	cards := []model.LoyaltyCard{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&cards).Error
	return cards, err
}
