package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/domain/shared/events"
)

type pinged struct {
	ID string
	At time.Time
}

func (p pinged) EventName() string     { return "listing.pinged" }
func (p pinged) AggregateID() string   { return p.ID }
func (p pinged) OccurredAt() time.Time { return p.At }

type sliceOutbox struct {
	records []EventRecord
}

func (s *sliceOutbox) Add(_ context.Context, rec EventRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *sliceOutbox) Flush(context.Context) error { return nil }

func TestRecordDomainEventsEncodesInOrder(t *testing.T) {
	at := time.Date(2026, 10, 17, 8, 0, 0, 0, time.FixedZone("WEST", 3600))
	box := &sliceOutbox{}
	n := 0
	encoder := JSONEventEncoder{IDGenerator: func() string { n++; return "ev-" + string(rune('0'+n)) }}

	ctx := WithCorrelationID(context.Background(), "req-7")
	err := RecordDomainEvents(ctx, box, encoder, []events.DomainEvent{pinged{ID: "a", At: at}, pinged{ID: "b", At: at}})
	require.NoError(t, err)

	require.Len(t, box.records, 2)
	first := box.records[0]
	assert.Equal(t, "ev-1", first.ID)
	assert.Equal(t, "listing.pinged", first.Name)
	assert.Equal(t, "a", first.Aggregate)
	assert.Equal(t, time.UTC, first.OccurredAt.Location())
	assert.Equal(t, "req-7", first.Headers[CorrelationHeader])
	assert.JSONEq(t, `{"ID":"a","At":"2026-10-17T08:00:00+01:00"}`, string(first.Payload))
	assert.Equal(t, "b", box.records[1].Aggregate)
}

func TestRecordDomainEventsWithoutCorrelation(t *testing.T) {
	box := &sliceOutbox{}
	require.NoError(t, RecordDomainEvents(context.Background(), box, nil, []events.DomainEvent{pinged{ID: "a"}}))
	require.Len(t, box.records, 1)
	assert.NotEmpty(t, box.records[0].ID)
	assert.NotContains(t, box.records[0].Headers, CorrelationHeader)
	assert.NoError(t, RecordDomainEvents(context.Background(), nil, nil, []events.DomainEvent{pinged{}}))
}
