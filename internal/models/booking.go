package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentType is how the traveler chose to pay.
type PaymentType string

const (
	PaymentTypeFull    PaymentType = "Full"
	PaymentTypePartial PaymentType = "Partial"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeFull || t == PaymentTypePartial
}

// PaymentStatus tracks money collected for a booking.
type PaymentStatus string

const (
	PaymentStatusPendingPayment PaymentStatus = "Pending Payment"
	PaymentStatusReserved       PaymentStatus = "Reserved"
	PaymentStatusPendingBalance PaymentStatus = "Pending Balance"
	PaymentStatusPaidInFull     PaymentStatus = "Paid in Full"
	PaymentStatusCancelled      PaymentStatus = "Cancelled"
)

// Unpaid reports whether the status still waits on money from the traveler.
func (s PaymentStatus) Unpaid() bool {
	return s == PaymentStatusPendingPayment || s == PaymentStatusReserved || s == PaymentStatusPendingBalance
}

// RefundStatus is the refund workflow state.
type RefundStatus string

const (
	RefundStatusNone                RefundStatus = "none"
	RefundStatusRequested           RefundStatus = "requested"
	RefundStatusApprovedByOrganizer RefundStatus = "approved_by_organizer"
	RefundStatusRejectedByOrganizer RefundStatus = "rejected_by_organizer"
	RefundStatusProcessed           RefundStatus = "processed"
	RefundStatusRejectedByAdmin     RefundStatus = "rejected_by_admin"
)

// OpenDispute reports whether a refund is still waiting on a decision.
func (s RefundStatus) OpenDispute() bool {
	return s == RefundStatusRequested || s == RefundStatusApprovedByOrganizer
}

// Terminal reports whether no further refund transition is possible.
func (s RefundStatus) Terminal() bool {
	return s == RefundStatusProcessed || s == RefundStatusRejectedByOrganizer || s == RefundStatusRejectedByAdmin
}

// Who cancelled a booking.
const (
	CancelledByTraveler = "traveler"
	CancelledBySystem   = "system"
)

// Booking is a traveler's reservation of slots on a batch. Bookings are never deleted;
// AmountPaid + BalanceDue == TotalPrice until a refund or cancellation settles it.
type Booking struct {
	ID                    uuid.UUID     `json:"id"`
	Vertical              ListingKind   `json:"vertical"`
	TravelerID            uuid.UUID     `json:"traveler_id"`
	OwnerID               uuid.UUID     `json:"owner_id"`
	ListingID             uuid.UUID     `json:"listing_id"`
	BatchID               uuid.UUID     `json:"batch_id"`
	ActivityDate          *time.Time    `json:"activity_date,omitempty"`
	TimeSlot              string        `json:"time_slot,omitempty"`
	NumberOfTravelers     int           `json:"number_of_travelers"`
	UnitPrice             float64       `json:"unit_price"`
	TotalPrice            float64       `json:"total_price"`
	PaymentType           PaymentType   `json:"payment_type"`
	AmountPaid            float64       `json:"amount_paid"`
	BalanceDue            float64       `json:"balance_due"`
	AmountDueNow          float64       `json:"amount_due_now"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	RefundStatus          RefundStatus  `json:"refund_status"`
	CouponCode            string        `json:"coupon_code,omitempty"`
	CouponDiscount        float64       `json:"coupon_discount"`
	SubscriptionDiscount  float64       `json:"subscription_discount"`
	GatewayOrderID        string        `json:"gateway_order_id,omitempty"`
	PendingOrderAmount    float64       `json:"pending_order_amount"`
	GatewayPaymentID      string        `json:"gateway_payment_id,omitempty"`
	RefundReason          string        `json:"refund_reason,omitempty"`
	RefundRequestDate     *time.Time    `json:"refund_request_date,omitempty"`
	CancellationInitiator string        `json:"cancellation_initiator,omitempty"`
	ApprovedRefundAmount  *float64      `json:"approved_refund_amount,omitempty"`
	OrganizerRemarks      string        `json:"organizer_remarks,omitempty"`
	RejectionReason       string        `json:"rejection_reason,omitempty"`
	RefundAttemptKey      string        `json:"refund_attempt_key,omitempty"`
	RefundAttemptAt       *time.Time    `json:"refund_attempt_at,omitempty"`
	GatewayRefundID       string        `json:"gateway_refund_id,omitempty"`
	RefundUTR             string        `json:"refund_utr,omitempty"`
	RefundProcessedAt     *time.Time    `json:"refund_processed_at,omitempty"`
	CancelledAt           *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// RefundReceipt is the idempotency receipt sent with the booking's gateway
// refund. A booking has at most one approved refund, so it never changes.
func (b *Booking) RefundReceipt() string {
	return "rfnd_" + b.ID.String()
}

// RefundCap is the most an owner may approve. Trips refund what was actually
// paid; experiences refund up to the full price.
func (b *Booking) RefundCap() float64 {
	if b.Vertical == ListingKindExperience {
		return b.TotalPrice
	}
	return b.AmountPaid
}

// EffectivePaymentStatus derives the status readers must see: an unpaid booking
// whose balance deadline (batch start minus the listing's balance-due days) has
// passed is Cancelled even before the reconciliation job persists it.
func (b *Booking) EffectivePaymentStatus(batch *Batch, listing *Listing, now time.Time) PaymentStatus {
	if b.PaymentStatus.Unpaid() && b.BalanceDue > 0 && now.After(batch.BalanceDeadline(listing)) {
		return PaymentStatusCancelled
	}
	return b.PaymentStatus
}

// BookingPayment records one captured gateway payment. GatewayPaymentID is unique,
// which makes payment confirmation idempotent.
type BookingPayment struct {
	ID               uuid.UUID `json:"id"`
	BookingID        uuid.UUID `json:"booking_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Amount           float64   `json:"amount"`
	CreatedAt        time.Time `json:"created_at"`
}
