package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerPublishesKeyedMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "bk-1" {
			return errors.New("unexpected key " + string(key))
		}
		if msg.Topic != "booking.events.v1" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "content-type" {
			return errors.New("missing content-type header")
		}
		return nil
	})
	p := NewProducerFromSync(mock)

	err := p.Publish(context.Background(), "booking.events.v1", "bk-1", []byte(`{}`),
		map[string]string{"content-type": "application/cloudevents+json"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducerSkipsCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFromSync(mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil, nil), context.Canceled)
	require.NoError(t, p.Close())
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) Context() context.Context { return context.Background() }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

type handlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

func (f handlerFunc) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

func TestConsumeClaimMarksOnlyHandledMessages(t *testing.T) {
	ch := make(chan *sarama.ConsumerMessage, 3)
	for i := int64(0); i < 3; i++ {
		ch <- &sarama.ConsumerMessage{Topic: "booking.events.v1", Offset: i}
	}
	close(ch)

	h := consumerGroupHandler{handler: handlerFunc(func(_ context.Context, msg *sarama.ConsumerMessage) error {
		if msg.Offset == 1 {
			return errors.New("boom")
		}
		return nil
	})}
	sess := &fakeSession{}
	require.NoError(t, h.ConsumeClaim(sess, fakeClaim{ch: ch}))
	assert.Equal(t, []int64{0, 2}, sess.marked)
}
