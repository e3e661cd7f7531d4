package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceStatus is the lifecycle state of a physical tag
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
	DeviceStatusRevoked  DeviceStatus = "revoked"
)

// Device classes
const (
	DeviceTypeNTAG424 = "ntag424"
	DeviceTypeQRMock  = "qr_mock"
)

// NFCDevice is one physical tag or QR stand-in. LastCounter is the replay
// boundary and only ever moves forward.
type NFCDevice struct {
	ID                   uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	UIDHex               string       `json:"uid_hex" gorm:"column:uid_hex;size:32;uniqueIndex;not null"`
	DeviceType           string       `json:"device_type" gorm:"size:20;not null;default:'ntag424'"`
	Label                string       `json:"label" gorm:"size:100;default:''"`
	LastCounter          int64        `json:"last_counter" gorm:"not null;default:0"`
	Status               DeviceStatus `json:"status" gorm:"size:20;not null;default:'active';index"`
	AssignedRestaurantID *uuid.UUID   `json:"assigned_restaurant_id" gorm:"type:uuid;index"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

func (NFCDevice) TableName() string { return "nfc_devices" }

func (d *NFCDevice) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether taps on this device are honoured
func (d *NFCDevice) IsActive() bool {
	return d.Status == DeviceStatusActive
}
