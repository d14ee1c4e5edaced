package me

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"staybook/internal/app/dto"
	handlersupport "staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainlistings "staybook/internal/domain/listings"
	domainuser "staybook/internal/domain/user"
	"staybook/internal/pkg/apperror"
)

const listTenantBookingsKey = "me.bookings.list"

type ListTenantBookingsQuery struct {
	TenantID string
}

func (q ListTenantBookingsQuery) Key() string { return listTenantBookingsKey }

type ListTenantBookingsHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *ListTenantBookingsHandler) Handle(ctx context.Context, q ListTenantBookingsQuery) (dto.TenantBookingCollection, error) {
	tenantID := strings.TrimSpace(q.TenantID)
	if tenantID == "" {
		return dto.TenantBookingCollection{}, apperror.New(http.StatusUnauthorized, "authentication required")
	}
	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.TenantBookingCollection{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	bookings, err := unit.Bookings().ListByTenant(execCtx, domainuser.ID(tenantID))
	if err != nil {
		return dto.TenantBookingCollection{}, err
	}
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].Range.CheckIn < bookings[j].Range.CheckIn
	})

	listingCache := make(map[domainlistings.ListingID]*domainlistings.Listing)
	items := make([]dto.TenantBookingSummary, 0, len(bookings))
	for _, b := range bookings {
		listing, err := loadListing(execCtx, unit.Listings(), b.ListingID, listingCache)
		if err != nil && h.Logger != nil {
			h.Logger.Warn("listing snapshot missing for booking", "booking_id", b.ID, "listing_id", b.ListingID, "error", err)
		}
		items = append(items, dto.MapTenantBookingSummary(b, listing))
	}

	if h.Logger != nil {
		h.Logger.Debug("tenant bookings listed", "tenant_id", tenantID, "count", len(items))
	}
	return dto.TenantBookingCollection{Items: items}, nil
}

func loadListing(
	ctx context.Context,
	repo domainlistings.ListingRepository,
	id domainlistings.ListingID,
	cache map[domainlistings.ListingID]*domainlistings.Listing,
) (*domainlistings.Listing, error) {
	if listing, ok := cache[id]; ok {
		return listing, nil
	}
	listing, err := repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = listing
	return listing, nil
}

var _ queries.Handler[ListTenantBookingsQuery, dto.TenantBookingCollection] = (*ListTenantBookingsHandler)(nil)
