package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunDeviceRepository implements DeviceRepository using Bun ORM
type BunDeviceRepository struct {
	db *bun.DB
}

// NewBunDeviceRepository creates a new Bun-based trusted device repository
func NewBunDeviceRepository(db *bun.DB) *BunDeviceRepository {
	return &BunDeviceRepository{db: db}
}

// IsTrusted reports whether the user verified a passcode on deviceID
func (r *BunDeviceRepository) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	ok, err := r.db.NewSelect().
		Model((*models.TrustedDevice)(nil)).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check trusted device: %w", err)
	}
	return ok, nil
}

// Trust records deviceID as trusted, refreshing last_seen_at if already known
func (r *BunDeviceRepository) Trust(ctx context.Context, userID, deviceID string) error {
	now := time.Now()
	_, err := r.db.NewInsert().
		Model(&models.TrustedDevice{UserID: userID, DeviceID: deviceID, TrustedAt: now, LastSeenAt: now}).
		On("CONFLICT (user_id, device_id) DO UPDATE").
		Set("last_seen_at = EXCLUDED.last_seen_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("trust device: %w", err)
	}
	return nil
}
