package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
)

// GetCouponByCode returns a coupon by its code.
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	const q = `
		SELECT id, code, type, value, scope, organizer_id, usage_limit, times_used, expires_at, is_active, created_at
		FROM coupons WHERE code = $1`
	var c models.Coupon
	err := s.db.QueryRow(ctx, q, code).Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.Scope, &c.OrganizerID,
		&c.UsageLimit, &c.TimesUsed, &c.ExpiresAt, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "get coupon")
	}
	return &c, nil
}

// RedeemCoupon increments times_used in one conditional statement; exhausted,
// expired and inactive coupons match no row.
func (s *Store) RedeemCoupon(ctx context.Context, couponID uuid.UUID, now time.Time) (bool, error) {
	const q = `
		UPDATE coupons SET times_used = times_used + 1
		WHERE id = $1
		  AND is_active
		  AND (usage_limit IS NULL OR times_used < usage_limit)
		  AND (expires_at IS NULL OR expires_at > $2)`
	tag, err := s.db.Exec(ctx, q, couponID, now)
	if err != nil {
		return false, fmt.Errorf("redeem coupon: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSubscription returns a user's subscription.
func (s *Store) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	const q = `SELECT user_id, tier, status, expires_at, created_at FROM subscriptions WHERE user_id = $1`
	var sub models.Subscription
	if err := s.db.QueryRow(ctx, q, userID).Scan(&sub.UserID, &sub.Tier, &sub.Status, &sub.ExpiresAt, &sub.CreatedAt); err != nil {
		return nil, notFound(err, "get subscription")
	}
	return &sub, nil
}
