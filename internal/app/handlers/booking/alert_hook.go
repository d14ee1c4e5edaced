package booking

import (
	"context"

	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/events"
	domainuser "staybook/internal/domain/user"
)

// OutboxAlertHook publishes a booking.inconsistent event for every orphaned charge. The
// event is written outside any unit and flushed right away.
type OutboxAlertHook struct {
	Outbox  outbox.Outbox
	Encoder outbox.EventEncoder
}

func (h OutboxAlertHook) ChargeOrphaned(ctx context.Context, incident policies.Incident) error {
	ev := domainbooking.ChargeOrphaned{
		BookingID: domainbooking.BookingID(incident.BookingID),
		ListingID: domainlistings.ListingID(incident.ListingID),
		TenantID:  domainuser.ID(incident.TenantID),
		ChargeID:  incident.ChargeID,
		Amount:    incident.Amount,
		Step:      incident.Step,
		Reason:    incident.Reason,
		At:        incident.OccurredAt,
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, []events.DomainEvent{ev}); err != nil {
		return err
	}
	return h.Outbox.Flush(ctx)
}

var _ policies.CompensationHook = OutboxAlertHook{}
