package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

const orphanedChargeType = "booking.inconsistent.v1"

// Inbox deduplicates deliveries by event id.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// OrphanedCharge is the data of a booking.inconsistent event.
type OrphanedCharge struct {
	BookingID string `json:"BookingID"`
	ListingID string `json:"ListingID"`
	TenantID  string `json:"TenantID"`
	ChargeID  string `json:"ChargeID"`
	Amount    struct {
		Amount   int64  `json:"Amount"`
		Currency string `json:"Currency"`
	} `json:"Amount"`
	Step   string `json:"Step"`
	Reason string `json:"Reason"`
}

type cloudEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

var ErrMalformedEvent = errors.New("incidents: malformed event")

// Monitor watches booking events and raises an alert once per orphaned charge.
type Monitor struct {
	Inbox  Inbox
	Logger *slog.Logger
	// Alert is called once per orphaned charge; nil only logs.
	Alert func(ctx context.Context, charge OrphanedCharge) error
}

func (m *Monitor) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt cloudEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ID == "" {
		// Poison messages are logged and skipped, never retried.
		m.logger().Warn("skipping malformed event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if evt.Type != orphanedChargeType {
		m.logger().Debug("booking event", "event_id", evt.ID, "type", evt.Type, "subject", evt.Subject)
		return nil
	}
	if m.Inbox != nil {
		seen, err := m.Inbox.Seen(ctx, evt.ID)
		if err != nil {
			return err
		}
		if seen {
			m.logger().Debug("duplicate event", "event_id", evt.ID)
			return nil
		}
	}
	var charge OrphanedCharge
	if err := json.Unmarshal(evt.Data, &charge); err != nil {
		m.logger().Warn("skipping event with malformed data", "event_id", evt.ID, "error", err)
		return nil
	}
	m.logger().Error("orphaned charge needs refund",
		"event_id", evt.ID,
		"booking_id", charge.BookingID,
		"listing_id", charge.ListingID,
		"tenant_id", charge.TenantID,
		"charge_id", charge.ChargeID,
		"amount", charge.Amount.Amount,
		"currency", charge.Amount.Currency,
		"step", charge.Step,
		"correlation_id", header(msg, "correlation_id"),
	)
	if m.Alert != nil {
		if err := m.Alert(ctx, charge); err != nil {
			if m.Inbox != nil {
				if ferr := m.Inbox.Forget(ctx, evt.ID); ferr != nil {
					err = errors.Join(err, ferr)
				}
			}
			return fmt.Errorf("incidents: alert for %s: %w", charge.ChargeID, err)
		}
	}
	return nil
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (m *Monitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.New(slog.DiscardHandler)
}
