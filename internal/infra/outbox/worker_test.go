package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	docs   []*EventDocument
	sent   []string
	failed map[string]time.Time
}

func (q *fakeQueue) Claim(context.Context, string) (*EventDocument, error) {
	if len(q.docs) == 0 {
		return nil, nil
	}
	doc := q.docs[0]
	q.docs = q.docs[1:]
	return doc, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id string, next time.Time, _ string) error {
	if q.failed == nil {
		q.failed = map[string]time.Time{}
	}
	q.failed[id] = next
	return nil
}

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	msgs []published
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, key, payload, headers})
	return nil
}

var occurred = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func doc(id, name string) *EventDocument {
	return &EventDocument{
		ID:         id,
		Name:       name,
		Aggregate:  "bk-1",
		Payload:    []byte(`{"BookingID":"bk-1","Nights":2}`),
		OccurredAt: occurred,
	}
}

func TestDrainPublishesCloudEvents(t *testing.T) {
	q := &fakeQueue{docs: []*EventDocument{doc("ev-1", "booking.created"), doc("ev-2", "booking.inconsistent")}}
	p := &fakeProducer{}
	w := &Worker{Store: q, Producer: p, TopicPrefix: "stage."}

	n, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ev-1", "ev-2"}, q.sent)

	require.Len(t, p.msgs, 2)
	msg := p.msgs[0]
	assert.Equal(t, "stage.booking.events.v1", msg.topic)
	assert.Equal(t, "bk-1", msg.key)
	assert.Equal(t, "application/cloudevents+json", msg.headers["content-type"])

	var evt map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &evt))
	assert.Equal(t, "ev-1", evt["id"])
	assert.Equal(t, "booking.created.v1", evt["type"])
	assert.Equal(t, "app://staybook", evt["source"])
	assert.Equal(t, float64(2), evt["data"].(map[string]any)["Nights"])
	assert.Equal(t, "booking.inconsistent.v1", p.msgs[1].headers["ce_type"])
}

func TestDrainSchedulesRetryOnPublishFailure(t *testing.T) {
	now := occurred
	q := &fakeQueue{docs: []*EventDocument{doc("ev-1", "booking.created")}}
	q.docs[0].Attempts = 1
	w := &Worker{
		Store:    q,
		Producer: &fakeProducer{err: errors.New("broker down")},
		Backoff:  []time.Duration{time.Second, 5 * time.Second},
		Now:      func() time.Time { return now },
	}

	_, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.sent)
	assert.Equal(t, now.Add(5*time.Second), q.failed["ev-1"])
}

func TestRunRequiresDependencies(t *testing.T) {
	assert.ErrorIs(t, (&Worker{}).Run(context.Background()), ErrWorkerNotConfigured)
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "booking.events.v1", TopicFor("", "booking.created"))
	assert.Equal(t, "p.misc.events.v1", TopicFor("p.", "misc"))
}
