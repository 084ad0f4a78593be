package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the settlement state of a completed batch.
type PayoutStatus string

const (
	PayoutStatusAvailable  PayoutStatus = "Available for Payout"
	PayoutStatusProcessing PayoutStatus = "Processing"
	PayoutStatusPaid       PayoutStatus = "Paid"
)

// Rank orders statuses so payouts only move forward.
func (s PayoutStatus) Rank() int {
	switch s {
	case PayoutStatusAvailable:
		return 0
	case PayoutStatusProcessing:
		return 1
	case PayoutStatusPaid:
		return 2
	}
	return -1
}

// ProcessedBatch is the derived settlement of one completed, dispute-free batch.
type ProcessedBatch struct {
	BatchID                 uuid.UUID    `json:"batch_id"`
	ListingID               uuid.UUID    `json:"listing_id"`
	ListingTitle            string       `json:"listing_title"`
	Vertical                ListingKind  `json:"vertical"`
	OwnerID                 uuid.UUID    `json:"owner_id"`
	StartDate               time.Time    `json:"start_date"`
	EndDate                 time.Time    `json:"end_date"`
	GrossRevenue            float64      `json:"gross_revenue"`
	CommissionRate          float64      `json:"commission_rate"`
	Commission              float64      `json:"commission"`
	NetEarning              float64      `json:"net_earning"`
	Status                  PayoutStatus `json:"status"`
	SuccessfulBookingsCount int          `json:"successful_bookings_count"`
	CancelledBookingsCount  int          `json:"cancelled_bookings_count"`
	PayoutReference         string       `json:"payout_reference,omitempty"`
}

// Payout is the persisted payout marker for a batch. Absent rows mean Available for Payout.
type Payout struct {
	BatchID      uuid.UUID    `json:"batch_id"`
	OwnerID      uuid.UUID    `json:"owner_id"`
	Status       PayoutStatus `json:"status"`
	Reference    string       `json:"reference,omitempty"`
	StatementKey string       `json:"statement_key,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
