package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunOTPChallengeRepository implements OTPChallengeRepository using Bun ORM
type BunOTPChallengeRepository struct {
	db *bun.DB
}

// NewBunOTPChallengeRepository creates a new Bun-based OTP challenge repository
func NewBunOTPChallengeRepository(db *bun.DB) *BunOTPChallengeRepository {
	return &BunOTPChallengeRepository{db: db}
}

// Create stores ch after consuming earlier open challenges for the same
// user and device, so only the newest code is accepted.
func (r *BunOTPChallengeRepository) Create(ctx context.Context, ch *models.OTPChallenge) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*models.OTPChallenge)(nil)).
			Set("consumed_at = ?", time.Now()).
			Where("user_id = ? AND device_id = ? AND consumed_at IS NULL", ch.UserID, ch.DeviceID).
			Exec(ctx); err != nil {
			return fmt.Errorf("supersede otp challenges: %w", err)
		}
		if _, err := tx.NewInsert().Model(ch).Exec(ctx); err != nil {
			return fmt.Errorf("create otp challenge: %w", err)
		}
		return nil
	})
}

// GetOpen returns the newest unconsumed challenge, expired or not
func (r *BunOTPChallengeRepository) GetOpen(ctx context.Context, userID, deviceID string) (*models.OTPChallenge, error) {
	ch := new(models.OTPChallenge)
	err := r.db.NewSelect().
		Model(ch).
		Where("user_id = ? AND device_id = ? AND consumed_at IS NULL", userID, deviceID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("open otp challenge: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get open otp challenge: %w", err)
	}
	return ch, nil
}

// IncrementAttempts records a failed verification and returns the new count
func (r *BunOTPChallengeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*models.OTPChallenge)(nil)).
			Set("attempts = attempts + 1").
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		return tx.NewSelect().
			Model((*models.OTPChallenge)(nil)).
			Column("attempts").
			Where("id = ?", id).
			Scan(ctx, &attempts)
	})
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// Consume marks a challenge as used
func (r *BunOTPChallengeRepository) Consume(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.OTPChallenge)(nil)).
		Set("consumed_at = ?", time.Now()).
		Where("id = ? AND consumed_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("consume otp challenge: %w", err)
	}
	return nil
}
