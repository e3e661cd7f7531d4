package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SecurityEventType string

const (
	SecurityEventInvalidSignature SecurityEventType = "invalid_signature"
	SecurityEventReplayAttack     SecurityEventType = "replay_attack"
	SecurityEventDevModeRejected  SecurityEventType = "dev_mode_rejected"
)

// SecurityEvent is an append-only audit record of a rejected tap
type SecurityEvent struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	DeviceID  uuid.UUID         `json:"device_id" gorm:"type:uuid;not null;index"`
	EventType SecurityEventType `json:"event_type" gorm:"size:40;not null;index"`
	Metadata  datatypes.JSON    `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
}

func (SecurityEvent) TableName() string { return "security_events" }

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
