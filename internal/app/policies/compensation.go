package policies

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain/shared/money"
)

// Incident describes a captured charge with no persisted booking behind it.
type Incident struct {
	BookingID  string
	ListingID  string
	TenantID   string
	HostID     string
	ChargeID   string
	Amount     money.Money
	Step       string
	Reason     string
	OccurredAt time.Time
}

// CompensationHook is told about every orphaned charge so refunds can be arranged outside
// the booking flow.
type CompensationHook interface {
	ChargeOrphaned(ctx context.Context, incident Incident) error
}

// Hooks fans an incident out to every hook and joins their errors.
type Hooks []CompensationHook

func (h Hooks) ChargeOrphaned(ctx context.Context, incident Incident) error {
	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.ChargeOrphaned(ctx, incident); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
