package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthProvider defines how the user authenticates
type AuthProvider string

const (
	AuthProviderEmail  AuthProvider = "email"
	AuthProviderGoogle AuthProvider = "google"
)

// User is a diner who collects stamps
type User struct {
	ID           uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	Name         string       `json:"name" gorm:"size:100;not null"`
	Email        string       `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Password     string       `json:"-" gorm:"size:255"` // empty for Google users
	AuthProvider AuthProvider `json:"auth_provider" gorm:"size:20;default:'email'"`
	GoogleID     *string      `json:"-" gorm:"uniqueIndex;size:255"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// UserResponse is the safe version of User for API responses
type UserResponse struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	AuthProvider AuthProvider `json:"auth_provider"`
}

// ToResponse converts User to safe UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		AuthProvider: u.AuthProvider,
	}
}
