// Package settlements derives what each owner earns from completed batches
// and tracks the payout of those earnings.
package settlements

import (
	"time"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/money"
)

// Line is one booking's contribution to a batch settlement.
type Line struct {
	BookingID     string               `json:"booking_id"`
	Travelers     int                  `json:"travelers"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	RefundStatus  models.RefundStatus  `json:"refund_status"`
	TotalPrice    float64              `json:"total_price"`
	AmountPaid    float64              `json:"amount_paid"`
	Counted       float64              `json:"counted"`
}

// Aggregate settles one ended batch. It reports false when any booking still
// has an open refund dispute: such batches are held back entirely.
//
// Paid in Full bookings count their total price; cancelled bookings count
// whatever the platform kept, i.e. their AmountPaid after refunds. Statuses
// are derived at now so unpaid balances past their deadline count as cancelled.
func Aggregate(batch *models.Batch, listing *models.Listing, bookings []models.Booking, rate float64, payout *models.Payout, now time.Time) (models.ProcessedBatch, []Line, bool) {
	pb := models.ProcessedBatch{
		BatchID:        batch.ID,
		ListingID:      listing.ID,
		ListingTitle:   listing.Title,
		Vertical:       listing.Kind,
		OwnerID:        listing.OwnerID,
		StartDate:      batch.StartDate,
		EndDate:        batch.EndDate,
		CommissionRate: rate,
		Status:         models.PayoutStatusAvailable,
	}
	lines := make([]Line, 0, len(bookings))
	gross := 0.0
	for i := range bookings {
		b := &bookings[i]
		if b.RefundStatus.OpenDispute() {
			return models.ProcessedBatch{}, nil, false
		}
		status := b.EffectivePaymentStatus(batch, listing, now)
		line := Line{
			BookingID:     b.ID.String(),
			Travelers:     b.NumberOfTravelers,
			PaymentStatus: status,
			RefundStatus:  b.RefundStatus,
			TotalPrice:    b.TotalPrice,
			AmountPaid:    b.AmountPaid,
		}
		switch status {
		case models.PaymentStatusPaidInFull:
			line.Counted = b.TotalPrice
			pb.SuccessfulBookingsCount++
		case models.PaymentStatusCancelled:
			line.Counted = b.AmountPaid
			pb.CancelledBookingsCount++
		}
		gross += line.Counted
		lines = append(lines, line)
	}
	pb.GrossRevenue = money.Round(gross)
	pb.Commission = money.Round(pb.GrossRevenue * rate)
	pb.NetEarning = money.Round(pb.GrossRevenue - pb.Commission)
	if payout != nil && payout.Status.Rank() > 0 {
		pb.Status = payout.Status
		pb.PayoutReference = payout.Reference
	}
	return pb, lines, true
}
