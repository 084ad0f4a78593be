package bookings

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/pkg/apperror"
)

// refCache memoizes the batch and listing lookups needed to derive statuses.
type refCache struct {
	q        store.Queries
	batches  map[uuid.UUID]*models.Batch
	listings map[uuid.UUID]*models.Listing
}

func newRefCache(q store.Queries) *refCache {
	return &refCache{q: q, batches: make(map[uuid.UUID]*models.Batch), listings: make(map[uuid.UUID]*models.Listing)}
}

func (c *refCache) batch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	if b, ok := c.batches[id]; ok {
		return b, nil
	}
	b, err := c.q.GetBatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load batch", Err: err}
	}
	c.batches[id] = b
	return b, nil
}

func (c *refCache) listing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if l, ok := c.listings[id]; ok {
		return l, nil
	}
	l, err := c.q.GetListing(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load listing", Err: err}
	}
	c.listings[id] = l
	return l, nil
}

func (c *refCache) get(ctx context.Context, b *models.Booking) (*models.Batch, *models.Listing, error) {
	batch, err := c.batch(ctx, b.BatchID)
	if err != nil {
		return nil, nil, err
	}
	listing, err := c.listing(ctx, batch.ListingID)
	if err != nil {
		return nil, nil, err
	}
	return batch, listing, nil
}

// withDerivedStatus replaces each booking's PaymentStatus with its effective status.
func (s *Service) withDerivedStatus(ctx context.Context, list []models.Booking) ([]models.Booking, error) {
	now := s.now()
	refs := newRefCache(s.store)
	for i := range list {
		batch, listing, err := refs.get(ctx, &list[i])
		if err != nil {
			return nil, err
		}
		list[i].PaymentStatus = list[i].EffectivePaymentStatus(batch, listing, now)
	}
	return list, nil
}

func canView(actor models.Actor, b *models.Booking) bool {
	return actor.IsAdmin() || b.TravelerID == actor.UserID || actor.Owns(b.Vertical, b.OwnerID)
}

// Get returns a booking to its traveler, its listing owner or an admin.
func (s *Service) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Booking, error) {
	b, err := s.getBooking(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, ErrNotYourBooking
	}
	list, err := s.withDerivedStatus(ctx, []models.Booking{*b})
	if err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListForTraveler returns the actor's own bookings, newest first.
func (s *Service) ListForTraveler(ctx context.Context, actor models.Actor) ([]models.Booking, error) {
	list, err := s.store.ListBookingsByTraveler(ctx, actor.UserID)
	if err != nil {
		return nil, apperror.InternalError{Msg: "list traveler bookings", Err: err}
	}
	return s.withDerivedStatus(ctx, list)
}

// ListForBatch returns every booking of a batch to the listing owner or an admin.
func (s *Service) ListForBatch(ctx context.Context, actor models.Actor, batchID uuid.UUID) ([]models.Booking, error) {
	refs := newRefCache(s.store)
	batch, err := refs.batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	listing, err := refs.listing(ctx, batch.ListingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Owns(listing.Kind, listing.OwnerID) {
		return nil, apperror.ForbiddenError{Msg: "batch belongs to another owner"}
	}
	list, err := s.store.ListBookingsByBatch(ctx, batchID)
	if err != nil {
		return nil, apperror.InternalError{Msg: "list batch bookings", Err: err}
	}
	return s.withDerivedStatus(ctx, list)
}
