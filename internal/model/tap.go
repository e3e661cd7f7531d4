package model

import (
	"time"

	"github.com/google/uuid"
)

// TapMode selects how a tap is authenticated
type TapMode string

const (
	TapModeDev  TapMode = "dev"
	TapModeProd TapMode = "prod"
)

// TapRequest is the raw query string of a tap URL
type TapRequest struct {
	UID     string `form:"uid"`
	Counter string `form:"counter"`
	CMAC    string `form:"cmac"`
	Mode    string `form:"mode"`
}

// TapEvent is a normalised tap, alive for one request
type TapEvent struct {
	UID        string
	Counter    int64
	HasCounter bool
	CMAC       string
	Mode       TapMode
}

// TapMetadata is stored with transactions, claims and security events
type TapMetadata struct {
	Mode      TapMode    `json:"tap_mode"`
	Counter   int64      `json:"counter"`
	UID       string     `json:"uid,omitempty"`
	CMAC      string     `json:"cmac,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	ClaimID   *uuid.UUID `json:"claim_id,omitempty"`
}

// TapStatus is the terminal state of a successful tap
type TapStatus string

const (
	TapStatusAwarded  TapStatus = "awarded"
	TapStatusDeferred TapStatus = "deferred"
)

// TapOutcome is what the response builder renders
type TapOutcome struct {
	Status         TapStatus
	Stamps         int
	ClaimToken     string
	ClaimExpiresAt time.Time
}
