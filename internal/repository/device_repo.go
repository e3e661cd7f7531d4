package repository

import (
	"context"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceRepository handles database operations for NFC devices
type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *DeviceRepository) WithTx(tx *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: tx}
}

// Create inserts a new device
func (r *DeviceRepository) Create(ctx context.Context, device *model.NFCDevice) error {
	return r.db.WithContext(ctx).Create(device).Error
}

// FindActiveByUID finds an active device by its UID. Inactive and revoked
// devices are reported as gorm.ErrRecordNotFound like unknown ones.
func (r *DeviceRepository) FindActiveByUID(ctx context.Context, uidHex string) (*model.NFCDevice, error) {
	var device model.NFCDevice
	err := r.db.WithContext(ctx).
		Where("uid_hex = ? AND status = ?", uidHex, model.DeviceStatusActive).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// FindByUID finds a device by UID regardless of status
func (r *DeviceRepository) FindByUID(ctx context.Context, uidHex string) (*model.NFCDevice, error) {
	var device model.NFCDevice
	err := r.db.WithContext(ctx).Where("uid_hex = ?", uidHex).First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// AdvanceCounter moves last_counter forward to counter only if it is strictly
// greater than the stored value. It reports false when another tap got there
// first, which callers treat as a replay.
func (r *DeviceRepository) AdvanceCounter(ctx context.Context, deviceID uuid.UUID, counter int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.NFCDevice{}).
		Where("id = ? AND last_counter < ? AND status = ?", deviceID, counter, model.DeviceStatusActive).
		Updates(map[string]interface{}{
			"last_counter": counter,
			"updated_at":   gorm.Expr("CURRENT_TIMESTAMP"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus changes the lifecycle status of a device
func (r *DeviceRepository) UpdateStatus(ctx context.Context, uidHex string, status model.DeviceStatus) error {
	return r.db.WithContext(ctx).Model(&model.NFCDevice{}).
		Where("uid_hex = ?", uidHex).
		Update("status", status).Error
}
