package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishOrderFinalizedKeysByPendingOrder(t *testing.T) {
	util.SetLogger(zap.NewNop())
	writer := &fakeWriter{}
	publisher := NewEventPublisher(NewProducerWithWriter(writer))

	event := &models.OrderFinalizedEvent{
		BaseEvent:      models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderFinalized, Timestamp: time.Now()},
		OrderID:        "order-1",
		PendingOrderID: "po-1",
		TicketNumber:   "T-00001",
	}
	require.NoError(t, publisher.PublishOrderFinalized(context.Background(), event))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "pending-po-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "x-event-type", Value: []byte(models.EventTypeOrderFinalized)}}, msg.Headers)

	var decoded models.OrderFinalizedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "T-00001", decoded.TicketNumber)
}

func TestPublishWrapsWriterErrors(t *testing.T) {
	util.SetLogger(zap.NewNop())
	writer := &fakeWriter{err: errors.New("leader not available")}
	publisher := NewEventPublisher(NewProducerWithWriter(writer))

	err := publisher.PublishCheckoutStarted(context.Background(), &models.CheckoutStartedEvent{PendingOrderID: "po-1"})

	assert.ErrorContains(t, err, "leader not available")
}

func TestEventHandlerRoutesOrderFinalized(t *testing.T) {
	util.SetLogger(zap.NewNop())
	handler := NewEventHandler()
	var got []string
	handler.OnOrderFinalized(func(_ context.Context, e *models.OrderFinalizedEvent) error {
		got = append(got, e.OrderID)
		return nil
	})

	finalized, _ := json.Marshal(models.OrderFinalizedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderFinalized},
		OrderID:   "order-1",
	})
	started, _ := json.Marshal(models.CheckoutStartedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeCheckoutStarted},
	})

	ctx := context.Background()
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: finalized}))
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: started}))
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: []byte("{")}))

	assert.Equal(t, []string{"order-1"}, got)
}

type scriptedReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	util.SetLogger(zap.NewNop())
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	consumer := NewConsumerWithReader(reader, "orders")
	consumer.backoff = time.Millisecond

	var mu sync.Mutex
	var handled []int64
	failures := 2
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg.Offset)
			if msg.Offset == 1 && failures > 0 {
				failures--
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2}, reader.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 1, 1, 2}, handled)
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	util.SetLogger(zap.NewNop())
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	consumer := NewConsumerWithReader(reader, "orders")

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(context.Context, kafka.Message) error {
			calls <- struct{}{}
			return errors.New("database unavailable")
		})
	}()

	<-calls
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, reader.commits())
}
