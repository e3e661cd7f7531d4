package repository

import (
	"context"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecurityEventRepository persists rejected taps as an append-only audit log
type SecurityEventRepository struct {
	db *gorm.DB
}

func NewSecurityEventRepository(db *gorm.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Record appends a security event
func (r *SecurityEventRepository) Record(ctx context.Context, event *model.SecurityEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByDevice returns the events of a device, newest first
func (r *SecurityEventRepository) ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]model.SecurityEvent, error) {
	events := []model.SecurityEvent{}
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Find(&events).Error
	return events, err
}
