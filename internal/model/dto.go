package model

import "time"

// ========== Auth DTOs ==========

// RegisterRequest creates an email account. PendingToken, on any sign-in
// request, redeems an anonymous tap right after authentication.
type RegisterRequest struct {
	Name         string `json:"name" binding:"required,min=2,max=100"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	PendingToken string `json:"pending_token"`
}

type LoginRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	PendingToken string `json:"pending_token"`
}

type GoogleLoginRequest struct {
	IDToken      string `json:"id_token" binding:"required"` // Google ID token from frontend
	PendingToken string `json:"pending_token"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
	// Claim reports the outcome of PendingToken, if one was sent
	Claim *ClaimResult `json:"claim,omitempty"`
}

type GoogleUserInfo struct {
	GoogleID string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"email_verified"`
}

// ========== Reward DTOs ==========

type ClaimRequest struct {
	Token string `json:"token" binding:"required"`
}

type ClaimResult struct {
	Redeemed bool   `json:"redeemed"`
	Stamps   int    `json:"stamps,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type CardResponse struct {
	RestaurantID   string    `json:"restaurant_id,omitempty"`
	CurrentStamps  int       `json:"current_stamps"`
	LifetimeStamps int       `json:"lifetime_stamps"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
