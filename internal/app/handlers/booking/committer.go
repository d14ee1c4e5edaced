package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainlistings "staybook/internal/domain/listings"
	"staybook/internal/domain/shared/daterange"
	domainuser "staybook/internal/domain/user"
)

// State is a step of a single booking commit.
type State string

const (
	StateValidating   State = "validating"
	StateCharging     State = "charging"
	StatePersisting   State = "persisting"
	StateCommitted    State = "committed"
	StateRejected     State = "rejected"
	StateInconsistent State = "inconsistent"
)

const (
	defaultLoadTimeout    = 5 * time.Second
	defaultChargeTimeout  = 10 * time.Second
	defaultPersistTimeout = 5 * time.Second
	defaultHookTimeout    = 10 * time.Second
)

var ErrCommitterMisconfigured = errors.New("booking: committer missing dependencies")

type CommitRequest struct {
	BookingID domainbooking.BookingID
	ListingID domainlistings.ListingID
	TenantID  domainuser.ID
	CheckIn   daterange.Day
	CheckOut  daterange.Day
	Source    string
}

type Outcome struct {
	State   State
	Booking *domainbooking.Booking
}

// Committer runs validate, charge and persist for one listing at a time. A failure before
// the charge leaves no trace; a failure after it is reported as Inconsistent and handed to
// the compensation hook.
type Committer struct {
	Units     uow.UoWFactory
	Locker    policies.ListingLocker
	Gateway   policies.ChargeGateway
	Hook      policies.CompensationHook
	Validator domainbooking.Validator
	Outbox    outbox.Outbox
	Encoder   outbox.EventEncoder
	Logger    *slog.Logger
	Now       func() time.Time

	LoadTimeout    time.Duration
	ChargeTimeout  time.Duration
	PersistTimeout time.Duration
	HookTimeout    time.Duration
}

func (c *Committer) Commit(ctx context.Context, req CommitRequest) (Outcome, error) {
	if c.Units == nil || c.Locker == nil || c.Gateway == nil {
		return Outcome{State: StateRejected}, ErrCommitterMisconfigured
	}
	if req.BookingID == "" {
		req.BookingID = domainbooking.BookingID(uuid.NewString())
	}
	log := c.logger().With("booking_id", req.BookingID, "listing_id", req.ListingID, "tenant_id", req.TenantID)

	c.enter(log, StateValidating)
	if req.TenantID == "" {
		return c.reject(log, domainbooking.ErrUnauthenticated)
	}
	release, err := c.Locker.Acquire(ctx, string(req.ListingID))
	if err != nil {
		return c.reject(log, fmt.Errorf("%w: %w", domainbooking.ErrListingBusy, err))
	}
	defer release()

	loadCtx, cancelLoad := context.WithTimeout(ctx, durationOr(c.LoadTimeout, defaultLoadTimeout))
	listing, host, err := c.load(loadCtx, req)
	cancelLoad()
	if err != nil {
		return c.reject(log, err)
	}
	validator := c.Validator
	if validator.Now == nil {
		validator.Now = c.now
	}
	quote, err := validator.Validate(listing, host, req.TenantID, req.CheckIn, req.CheckOut)
	if err != nil {
		return c.reject(log, err)
	}

	c.enter(log, StateCharging, "amount", quote.Total.String(), "nights", quote.Nights)
	chargeCtx, cancel := context.WithTimeout(ctx, durationOr(c.ChargeTimeout, defaultChargeTimeout))
	receipt, err := c.Gateway.Charge(chargeCtx, policies.ChargeRequest{
		Amount:      quote.Total,
		Source:      req.Source,
		Destination: host.WalletID,
		Reference:   string(req.BookingID),
		Description: fmt.Sprintf("%s %s", listing.Title, quote.Range),
	})
	cancel()
	if err != nil {
		return c.reject(log, fmt.Errorf("%w: %w", domainbooking.ErrGateway, err))
	}

	c.enter(log, StatePersisting, "charge_id", receipt.ID)
	// The charge is captured; the request going away must not abort the write.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), durationOr(c.PersistTimeout, defaultPersistTimeout))
	defer cancelPersist()
	booking, step, err := c.persist(persistCtx, req, listing, quote, receipt)
	if err != nil {
		return c.inconsistent(ctx, log, req, listing, quote, receipt, step, err)
	}

	c.enter(log, StateCommitted, "charge_id", receipt.ID)
	return Outcome{State: StateCommitted, Booking: booking}, nil
}

func (c *Committer) load(ctx context.Context, req CommitRequest) (*domainlistings.Listing, *domainuser.User, error) {
	unit, execCtx, err := uow.Begin(ctx, c.Units, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = unit.Rollback(execCtx) }()

	if _, err := unit.Users().ByID(execCtx, req.TenantID); err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: account %s", domainbooking.ErrUnauthenticated, req.TenantID)
		}
		return nil, nil, err
	}
	listing, err := unit.Listings().ByID(execCtx, req.ListingID)
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: listing %s: %w", domainbooking.ErrNotFound, req.ListingID, err)
		}
		return nil, nil, err
	}
	host, err := unit.Users().ByID(execCtx, domainuser.ID(listing.Host))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: host %s: %w", domainbooking.ErrNotFound, listing.Host, err)
		}
		return nil, nil, err
	}
	return listing, host, nil
}

// persist applies every write of a committed booking in one unit and reports the step
// that failed.
func (c *Committer) persist(
	ctx context.Context,
	req CommitRequest,
	listing *domainlistings.Listing,
	quote domainbooking.Quote,
	receipt policies.ChargeReceipt,
) (*domainbooking.Booking, string, error) {
	unit, txCtx, err := uow.Begin(ctx, c.Units, uow.TxOptions{})
	if err != nil {
		return nil, domainbooking.StepBegin, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(txCtx)
		}
	}()

	current, err := unit.Listings().ByID(txCtx, listing.ID)
	if err != nil {
		return nil, domainbooking.StepReserveDates, err
	}
	merged, err := current.Availability.Merge(quote.Range)
	if err != nil {
		return nil, domainbooking.StepReserveDates, fmt.Errorf("%w: %w", domainbooking.ErrDateConflict, err)
	}

	booking, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:        req.BookingID,
		ListingID: current.ID,
		HostID:    domainuser.ID(current.Host),
		TenantID:  req.TenantID,
		Quote:     quote,
		ChargeID:  receipt.ID,
		CreatedAt: c.now(),
	})
	if err != nil {
		return nil, domainbooking.StepInsertBooking, err
	}
	if err := unit.Bookings().Insert(txCtx, booking); err != nil {
		return nil, domainbooking.StepInsertBooking, err
	}
	if err := unit.Users().IncrementIncome(txCtx, domainuser.ID(current.Host), quote.Total.Amount); err != nil {
		return nil, domainbooking.StepCreditHost, err
	}
	if err := unit.Users().AppendBooking(txCtx, req.TenantID, string(booking.ID)); err != nil {
		return nil, domainbooking.StepLinkTenant, err
	}
	if err := unit.Listings().UpdateAvailabilityAndBookings(txCtx, current.ID, current.Version, merged, string(booking.ID)); err != nil {
		return nil, domainbooking.StepUpdateListing, err
	}
	if err := outbox.RecordDomainEvents(txCtx, c.Outbox, c.Encoder, booking.PendingEvents()); err != nil {
		return nil, domainbooking.StepRecordEvents, err
	}
	if err := unit.Commit(txCtx); err != nil {
		return nil, domainbooking.StepCommit, err
	}
	committed = true
	booking.ClearEvents()
	return booking, "", nil
}

func (c *Committer) inconsistent(
	ctx context.Context,
	log *slog.Logger,
	req CommitRequest,
	listing *domainlistings.Listing,
	quote domainbooking.Quote,
	receipt policies.ChargeReceipt,
	step string,
	cause error,
) (Outcome, error) {
	incErr := &domainbooking.InconsistentError{
		BookingID: req.BookingID,
		ListingID: listing.ID,
		ChargeID:  receipt.ID,
		Amount:    quote.Total,
		Step:      step,
		Err:       cause,
	}
	c.enter(log, StateInconsistent, "charge_id", receipt.ID, "step", step)
	log.Error("charge captured but booking not persisted",
		"charge_id", receipt.ID,
		"amount", quote.Total.String(),
		"step", step,
		"error", cause,
	)
	if c.Hook != nil {
		incident := policies.Incident{
			BookingID:  string(req.BookingID),
			ListingID:  string(listing.ID),
			TenantID:   string(req.TenantID),
			HostID:     string(listing.Host),
			ChargeID:   receipt.ID,
			Amount:     quote.Total,
			Step:       step,
			Reason:     cause.Error(),
			OccurredAt: c.now(),
		}
		// The persist deadline may be what failed; the hook gets its own.
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), durationOr(c.HookTimeout, defaultHookTimeout))
		defer cancel()
		if err := c.Hook.ChargeOrphaned(hookCtx, incident); err != nil {
			log.Error("compensation hook failed", "charge_id", receipt.ID, "error", err)
		}
	}
	return Outcome{State: StateInconsistent}, incErr
}

func (c *Committer) reject(log *slog.Logger, err error) (Outcome, error) {
	c.enter(log, StateRejected, "reason", err)
	return Outcome{State: StateRejected}, err
}

func (c *Committer) enter(log *slog.Logger, state State, attrs ...any) {
	log.Debug("booking commit", append([]any{"state", string(state)}, attrs...)...)
}

func (c *Committer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Committer) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
