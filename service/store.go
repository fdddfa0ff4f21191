package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dledger/slipchain/backend/model"
)

// SlipStore is the local mirror of notarized records. Uniqueness of
// content hash and device id is enforced by database indexes, so the
// invariants hold even for concurrent callers that bypass the workflow.
type SlipStore struct {
	db *gorm.DB
}

func NewSlipStore(db *gorm.DB) *SlipStore {
	return &SlipStore{db: db}
}

// OpenDatabase opens the sqlite mirror and runs migrations.
func OpenDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&model.Slip{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

// Create persists a slip. Duplicate content hashes and device ids are
// rejected by the unique indexes.
func (s *SlipStore) Create(ctx context.Context, slip *model.Slip) error {
	err := s.db.WithContext(ctx).Create(slip).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// The translated error no longer names the index that tripped;
		// re-query to tell a content collision from a device collision.
		exists, qErr := s.ContainsHash(ctx, slip.ContentHash)
		if qErr == nil && exists {
			return fmt.Errorf("%w: %s", ErrDuplicateContent, slip.ContentHash)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, slip.DeviceID)
	}
	return fmt.Errorf("failed to create slip: %w", err)
}

// List returns slips ordered by upload time, optionally filtered by
// exact owner match. An empty owner id returns everything.
func (s *SlipStore) List(ctx context.Context, ownerID string) ([]model.Slip, error) {
	q := s.db.WithContext(ctx).Order("uploaded_at ASC")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}

	var slips []model.Slip
	if err := q.Find(&slips).Error; err != nil {
		return nil, fmt.Errorf("failed to list slips: %w", err)
	}
	return slips, nil
}

// GetByDevice returns the mirrored slip for a device, or nil.
func (s *SlipStore) GetByDevice(ctx context.Context, deviceID string) (*model.Slip, error) {
	var slip model.Slip
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&slip).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load slip: %w", err)
	}
	return &slip, nil
}

// ContainsHash reports whether any slip already carries this content hash.
func (s *SlipStore) ContainsHash(ctx context.Context, contentHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Slip{}).
		Where("content_hash = ?", contentHash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check content hash: %w", err)
	}
	return count > 0, nil
}

// UpdateHash repoints the content hash for a device's mirror row.
func (s *SlipStore) UpdateHash(ctx context.Context, deviceID, contentHash string) error {
	err := s.db.WithContext(ctx).Model(&model.Slip{}).
		Where("device_id = ?", deviceID).
		Update("content_hash", contentHash).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateContent, contentHash)
		}
		return fmt.Errorf("failed to update content hash: %w", err)
	}
	return nil
}

// UpdateEndDate moves the mirrored warranty end date.
func (s *SlipStore) UpdateEndDate(ctx context.Context, deviceID, endDate string) error {
	err := s.db.WithContext(ctx).Model(&model.Slip{}).
		Where("device_id = ?", deviceID).
		Update("warranty_end", endDate).Error
	if err != nil {
		return fmt.Errorf("failed to update end date: %w", err)
	}
	return nil
}

// UpdateOwner reassigns the mirrored owner for a device.
func (s *SlipStore) UpdateOwner(ctx context.Context, deviceID, ownerID string) error {
	err := s.db.WithContext(ctx).Model(&model.Slip{}).
		Where("device_id = ?", deviceID).
		Update("owner_id", ownerID).Error
	if err != nil {
		return fmt.Errorf("failed to update owner: %w", err)
	}
	return nil
}

// Count returns the number of mirrored slips.
func (s *SlipStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Slip{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count slips: %w", err)
	}
	return count, nil
}
