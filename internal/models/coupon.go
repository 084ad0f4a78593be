package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponType is fixed amount or percentage.
type CouponType string

const (
	CouponTypeFixed      CouponType = "fixed"
	CouponTypePercentage CouponType = "percentage"
)

// CouponScope limits where a coupon applies.
type CouponScope string

const (
	CouponScopeGlobal    CouponScope = "global"
	CouponScopeOrganizer CouponScope = "organizer"
)

// Coupon is a discount code. TimesUsed only grows, and only when a booking using it commits.
type Coupon struct {
	ID          uuid.UUID   `json:"id"`
	Code        string      `json:"code"`
	Type        CouponType  `json:"type"`
	Value       float64     `json:"value"`
	Scope       CouponScope `json:"scope"`
	OrganizerID *uuid.UUID  `json:"organizer_id,omitempty"`
	UsageLimit  *int        `json:"usage_limit,omitempty"`
	TimesUsed   int         `json:"times_used"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit
}

// Expired reports whether the coupon has expired at now.
func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
