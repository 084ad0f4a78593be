package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the marketplace.
type Role string

const (
	RoleTraveler  Role = "traveler"
	RoleOrganizer Role = "organizer"
	RoleVendor    Role = "vendor"
	RoleAdmin     Role = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the actor has platform admin rights.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Owns reports whether the actor is the organizer or vendor owning a listing of the given kind.
func (a Actor) Owns(kind ListingKind, ownerID uuid.UUID) bool {
	if a.UserID != ownerID {
		return false
	}
	switch kind {
	case ListingKindTrip:
		return a.Role == RoleOrganizer
	case ListingKindExperience:
		return a.Role == RoleVendor
	}
	return false
}

// SubscriptionTierPro is the paid tier that earns the subscription discount.
const SubscriptionTierPro = "pro"

// SubscriptionStatusActive marks a live subscription.
const SubscriptionStatusActive = "active"

// Subscription is a traveler's membership tier.
type Subscription struct {
	UserID    uuid.UUID `json:"user_id"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivePro reports whether the subscription grants the pro discount at now.
func (s *Subscription) ActivePro(now time.Time) bool {
	return s != nil && s.Tier == SubscriptionTierPro && s.Status == SubscriptionStatusActive && now.Before(s.ExpiresAt)
}
