package models

import (
	"time"

	"github.com/google/uuid"
)

// ListingKind separates the two verticals that share the booking engine.
type ListingKind string

const (
	ListingKindTrip       ListingKind = "trip"
	ListingKindExperience ListingKind = "experience"
)

// Listing is a bookable trip (owned by an organizer) or experience (owned by a vendor).
type Listing struct {
	ID                        uuid.UUID   `json:"id"`
	Kind                      ListingKind `json:"kind"`
	OwnerID                   uuid.UUID   `json:"owner_id"`
	Title                     string      `json:"title"`
	BasePrice                 float64     `json:"base_price"`
	Currency                  string      `json:"currency"`
	SpotReservationPercentage float64     `json:"spot_reservation_percentage"`
	BalanceDueDays            int         `json:"balance_due_days"`
	IsActive                  bool        `json:"is_active"`
	CreatedAt                 time.Time   `json:"created_at"`
	UpdatedAt                 time.Time   `json:"updated_at"`
}

// AllowsPartialPayment reports whether travelers may pay a deposit up front.
func (l *Listing) AllowsPartialPayment() bool {
	return l.SpotReservationPercentage > 0 && l.SpotReservationPercentage < 100
}

// BatchStatus is the sellable state of a batch.
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "Active"
	BatchStatusInactive BatchStatus = "Inactive"
	BatchStatusFull     BatchStatus = "Full"
)

// Batch is a dated departure of a trip, or one date and time slot of an experience.
// 0 <= AvailableSlots <= Capacity always holds.
type Batch struct {
	ID               uuid.UUID   `json:"id"`
	ListingID        uuid.UUID   `json:"listing_id"`
	StartDate        time.Time   `json:"start_date"`
	EndDate          time.Time   `json:"end_date"`
	TimeSlot         string      `json:"time_slot,omitempty"`
	Capacity         int         `json:"capacity"`
	AvailableSlots   int         `json:"available_slots"`
	Status           BatchStatus `json:"status"`
	PriceOverride    *float64    `json:"price_override,omitempty"`
	IsLastMinuteDeal bool        `json:"is_last_minute_deal"`
	DealPrice        *float64    `json:"deal_price,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// UnitPrice is the per-traveler price before discounts: an active
// last-minute deal wins over the batch override, which wins over the listing base price.
func (b *Batch) UnitPrice(l *Listing) float64 {
	if b.IsLastMinuteDeal && b.DealPrice != nil {
		return *b.DealPrice
	}
	if b.PriceOverride != nil {
		return *b.PriceOverride
	}
	return l.BasePrice
}

// BalanceDeadline is the instant after which an unpaid balance cancels the booking.
func (b *Batch) BalanceDeadline(l *Listing) time.Time {
	return b.StartDate.AddDate(0, 0, -l.BalanceDueDays)
}

// HasEnded reports whether the batch is complete and eligible for settlement.
func (b *Batch) HasEnded(now time.Time) bool {
	return b.EndDate.Before(now)
}
