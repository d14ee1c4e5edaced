package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/app/policies"
)

// IncidentArchive keeps one JSON object per orphaned charge so finance can reconcile
// refunds against processor statements.
type IncidentArchive struct {
	Store  ObjectStore
	Prefix string
}

type incidentObject struct {
	BookingID  string    `json:"booking_id"`
	ListingID  string    `json:"listing_id"`
	TenantID   string    `json:"tenant_id"`
	HostID     string    `json:"host_id"`
	ChargeID   string    `json:"charge_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Step       string    `json:"step"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (a IncidentArchive) ChargeOrphaned(ctx context.Context, incident policies.Incident) error {
	if a.Store == nil {
		return errors.New("s3: incident archive has no store")
	}
	body, err := json.MarshalIndent(incidentObject{
		BookingID:  incident.BookingID,
		ListingID:  incident.ListingID,
		TenantID:   incident.TenantID,
		HostID:     incident.HostID,
		ChargeID:   incident.ChargeID,
		Amount:     incident.Amount.Amount,
		Currency:   incident.Amount.Currency,
		Step:       incident.Step,
		Reason:     incident.Reason,
		OccurredAt: incident.OccurredAt.UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return a.Store.Put(ctx, a.key(incident), bytes.NewReader(body), int64(len(body)), "application/json")
}

// key groups incidents by day: incidents/2026/10/17/ch_123.json.
func (a IncidentArchive) key(incident policies.Incident) string {
	prefix := a.Prefix
	if prefix == "" {
		prefix = "incidents"
	}
	at := incident.OccurredAt.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, at.Format("2006/01/02"), incident.ChargeID)
}

var _ policies.CompensationHook = IncidentArchive{}
