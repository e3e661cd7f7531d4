package repository

import (
	"context"
	"errors"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository handles database operations for User
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID finds a user by UUID
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail finds a user by email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreateGoogleUser finds a user by email or creates a new one, linking
// the Google account on first sign-in
func (r *UserRepository) GetOrCreateGoogleUser(ctx context.Context, info model.GoogleUserInfo) (*model.User, error) {
	db := r.db.WithContext(ctx)

	var user model.User
	err := db.Where("email = ?", info.Email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		if user.GoogleID == nil || *user.GoogleID != info.GoogleID {
			id := info.GoogleID
			if err := db.Model(&user).Updates(map[string]interface{}{
				"google_id":     &id,
				"auth_provider": model.AuthProviderGoogle,
			}).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	}

	googleID := info.GoogleID
	newUser := model.User{
		Email:        info.Email,
		Name:         info.Name,
		GoogleID:     &googleID,
		AuthProvider: model.AuthProviderGoogle,
	}
	if err := db.Create(&newUser).Error; err != nil {
		return nil, err
	}
	return &newUser, nil
}
