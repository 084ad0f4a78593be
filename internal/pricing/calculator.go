// Package pricing computes booking prices from stacked discounts.
//
// Reductions apply in a fixed order to the running subtotal:
//
//	subtotal = unit price * travelers
//	pro subscription: subtotal -= subtotal * pro rate
//	coupon:           subtotal -= fixed amount or percentage of the discounted subtotal
//
// A coupon that cannot be used is dropped silently; the quote records why.
package pricing

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/money"
)

// DefaultProDiscountRate is the pro subscription discount when none is configured.
const DefaultProDiscountRate = 0.05

// Reasons a coupon was not applied.
const (
	CouponNotFound   = "not_found"
	CouponInactive   = "inactive"
	CouponExpired    = "expired"
	CouponExhausted  = "exhausted"
	CouponOutOfScope = "out_of_scope"
	CouponRaceLost   = "redeem_failed"
)

// Input is everything a quote depends on.
type Input struct {
	UnitPrice    float64
	Travelers    int
	Subscription *models.Subscription
	Coupon       *models.Coupon
	// OwnerID is the listing owner; organizer-scoped coupons only apply to their own listings.
	OwnerID                   uuid.UUID
	PaymentType               models.PaymentType
	SpotReservationPercentage float64
	Now                       time.Time
}

// Quote is the computed price breakdown.
type Quote struct {
	UnitPrice            float64 `json:"unit_price"`
	Subtotal             float64 `json:"subtotal"`
	SubscriptionDiscount float64 `json:"subscription_discount"`
	CouponDiscount       float64 `json:"coupon_discount"`
	TotalPrice           float64 `json:"total_price"`
	AmountToPay          float64 `json:"amount_to_pay"`
	BalanceDue           float64 `json:"balance_due"`
	CouponApplied        bool    `json:"coupon_applied"`
	CouponRejected       string  `json:"-"`
}

// Calculator prices bookings.
type Calculator struct {
	proRate float64
}

// NewCalculator creates a Calculator; a non-positive proRate uses DefaultProDiscountRate.
func NewCalculator(proRate float64) *Calculator {
	if proRate <= 0 {
		proRate = DefaultProDiscountRate
	}
	return &Calculator{proRate: proRate}
}

// CouponRejection returns why c cannot discount a listing owned by ownerID at now,
// or "" when it can.
func CouponRejection(c *models.Coupon, ownerID uuid.UUID, now time.Time) string {
	switch {
	case c == nil:
		return CouponNotFound
	case !c.IsActive:
		return CouponInactive
	case c.Expired(now):
		return CouponExpired
	case c.Exhausted():
		return CouponExhausted
	case c.Scope == models.CouponScopeOrganizer && (c.OrganizerID == nil || *c.OrganizerID != ownerID):
		return CouponOutOfScope
	}
	return ""
}

// CouponApplies reports whether c may discount a listing owned by ownerID at now.
func CouponApplies(c *models.Coupon, ownerID uuid.UUID, now time.Time) bool {
	return c != nil && CouponRejection(c, ownerID, now) == ""
}

// Quote prices in. It is pure: redeeming the coupon is the caller's job.
func (c *Calculator) Quote(in Input) Quote {
	q := Quote{UnitPrice: in.UnitPrice}
	q.Subtotal = money.Round(in.UnitPrice * float64(in.Travelers))
	running := q.Subtotal

	if in.Subscription.ActivePro(in.Now) {
		q.SubscriptionDiscount = money.Round(running * c.proRate)
		running -= q.SubscriptionDiscount
	}

	if in.Coupon != nil {
		if reason := CouponRejection(in.Coupon, in.OwnerID, in.Now); reason != "" {
			q.CouponRejected = reason
		} else {
			q.CouponDiscount = couponReduction(in.Coupon, running)
			running -= q.CouponDiscount
			q.CouponApplied = true
		}
	}

	q.TotalPrice = money.Round(math.Max(running, 0))
	q.AmountToPay = q.TotalPrice
	if in.PaymentType == models.PaymentTypePartial {
		q.AmountToPay = money.Percent(q.TotalPrice, in.SpotReservationPercentage)
	}
	q.BalanceDue = money.Round(q.TotalPrice - q.AmountToPay)
	return q
}

// couponReduction never takes the subtotal below zero.
func couponReduction(c *models.Coupon, subtotal float64) float64 {
	var off float64
	switch c.Type {
	case models.CouponTypeFixed:
		off = c.Value
	case models.CouponTypePercentage:
		pct := math.Min(math.Max(c.Value, 0), 100)
		off = subtotal * pct / 100
	}
	return money.Round(math.Min(math.Max(off, 0), subtotal))
}
