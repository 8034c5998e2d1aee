package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/venuerec/internal/validation"
	"github.com/temcen/venuerec/pkg/models"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

// failingWriter rejects the first failures writes, then records.
type failingWriter struct {
	recordingWriter
	failures int
	calls    int
}

func (w *failingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.calls++
	if w.calls <= w.failures {
		w.mu.Unlock()
		return errors.New("dlq down")
	}
	w.mu.Unlock()
	return w.recordingWriter.WriteMessages(ctx, msgs...)
}

func (w *failingWriter) attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// queueReader hands out queued messages, then blocks until the context ends.
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetched   int
	drained   chan struct{}
}

func newQueueReader(msgs ...kafka.Message) *queueReader {
	return &queueReader{queue: msgs, drained: make(chan struct{})}
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetched++
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *queueReader) progress() (fetched int, committed []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetched, append([]int64(nil), r.committed...)
}

func (r *queueReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{Messages: 3} }
func (r *queueReader) Close() error             { return nil }

func testBus(t *testing.T, reader messageReader, events, dlq messageWriter) *MessageBus {
	t.Helper()
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bus := newMessageBus(events, reader, dlq, validator, logger, "review-ingestion", "rating-events", 2)
	bus.baseDelay = time.Millisecond
	return bus
}

const validReview = `{"tripadvisor_username":"gourmand","rating":5,"place":{"tripadvisor_id":"d42","name":"Mayak","place_type":3}}`

func TestMessageBus_PublishRatingEvent(t *testing.T) {
	events := &recordingWriter{}
	bus := testBus(t, newQueueReader(), events, &recordingWriter{})

	event := models.RatingEvent{
		EventID:    uuid.New(),
		Type:       models.RatingRecordedEvent,
		ReviewID:   9,
		UserID:     17,
		PlaceID:    4,
		Rating:     5,
		UpdateMode: "partial",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, bus.PublishRatingEvent(context.Background(), event))

	written := events.written()
	require.Len(t, written, 1)
	assert.Equal(t, "17", string(written[0].Key))

	var decoded models.RatingEvent
	require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, event.PlaceID, decoded.PlaceID)

	assert.True(t, bus.validator.ValidateRatingEvent(written[0].Value).Valid)
}

func TestMessageBus_PublishFailure(t *testing.T) {
	event := models.RatingEvent{
		EventID:    uuid.New(),
		Type:       models.RatingRecordedEvent,
		ReviewID:   9,
		UserID:     17,
		PlaceID:    4,
		Rating:     2,
		UpdateMode: "deferred",
		OccurredAt: time.Now().UTC(),
	}

	t.Run("broker down", func(t *testing.T) {
		bus := testBus(t, newQueueReader(), &recordingWriter{err: errors.New("broker down")}, &recordingWriter{})
		assert.ErrorContains(t, bus.PublishRatingEvent(context.Background(), event), "broker down")
	})

	t.Run("invalid event is never written", func(t *testing.T) {
		events := &recordingWriter{}
		bus := testBus(t, newQueueReader(), events, &recordingWriter{})
		err := bus.PublishRatingEvent(context.Background(), models.RatingEvent{EventID: uuid.New()})
		assert.ErrorContains(t, err, "rating event rejected")
		assert.Empty(t, events.written())
	})
}

func TestMessageBus_HandleMessage(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		handlerErrs  int
		wantCalls    int
		wantDLQ      bool
		wantAttempts int
	}{
		{name: "processed first time", value: validReview, wantCalls: 1},
		{name: "recovers after retry", value: validReview, handlerErrs: 2, wantCalls: 3},
		{name: "retries exhausted", value: validReview, handlerErrs: 10, wantCalls: 3, wantDLQ: true, wantAttempts: 3},
		{name: "schema violation", value: `{"tripadvisor_username":"x","rating":9}`, wantDLQ: true},
		{name: "not json", value: `garbage`, wantDLQ: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dlq := &recordingWriter{}
			bus := testBus(t, newQueueReader(), &recordingWriter{}, dlq)

			calls := 0
			handler := func(_ context.Context, review models.IngestedReview) error {
				calls++
				assert.Equal(t, "gourmand", review.TripadvisorUsername)
				if calls <= tt.handlerErrs {
					return errors.New("database unavailable")
				}
				return nil
			}

			err := bus.handleMessage(context.Background(), kafka.Message{Offset: 11, Value: []byte(tt.value)}, handler)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, calls)

			parked := dlq.written()
			if !tt.wantDLQ {
				assert.Empty(t, parked)
				return
			}
			require.Len(t, parked, 1)
			var body dlqMessage
			require.NoError(t, json.Unmarshal(parked[0].Value, &body))
			assert.Equal(t, tt.wantAttempts, body.Attempts)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestMessageBus_HandleMessageDLQFailure(t *testing.T) {
	t.Run("retries until the DLQ accepts", func(t *testing.T) {
		dlq := &failingWriter{failures: 3}
		bus := testBus(t, newQueueReader(), &recordingWriter{}, dlq)

		err := bus.handleMessage(context.Background(), kafka.Message{Value: []byte("garbage")}, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, dlq.attempts())
		assert.Len(t, dlq.written(), 1)
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		bus := testBus(t, newQueueReader(), &recordingWriter{}, &recordingWriter{err: errors.New("dlq down")})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := bus.handleMessage(ctx, kafka.Message{Value: []byte("garbage")}, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorContains(t, err, "dlq down")
	})
}

func TestMessageBus_ConsumeReviewsHoldsUnparkedMessage(t *testing.T) {
	reader := newQueueReader(
		kafka.Message{Offset: 1, Value: []byte("garbage")},
		kafka.Message{Offset: 2, Value: []byte(validReview)},
	)
	dlq := &failingWriter{failures: 1 << 30}
	bus := testBus(t, reader, &recordingWriter{}, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bus.ConsumeReviews(ctx, func(context.Context, models.IngestedReview) error { return nil })
	}()

	require.Eventually(t, func() bool { return dlq.attempts() >= 5 }, 5*time.Second, time.Millisecond)
	fetched, committed := reader.progress()
	assert.Equal(t, 1, fetched)
	assert.Empty(t, committed)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	fetched, committed = reader.progress()
	assert.Equal(t, 1, fetched)
	assert.Empty(t, committed)
	assert.Empty(t, dlq.written())
}

func TestMessageBus_ConsumeReviewsCommitsAfterDLQRecovers(t *testing.T) {
	reader := newQueueReader(
		kafka.Message{Offset: 1, Value: []byte("garbage")},
		kafka.Message{Offset: 2, Value: []byte(validReview)},
	)
	dlq := &failingWriter{failures: 2}
	bus := testBus(t, reader, &recordingWriter{}, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bus.ConsumeReviews(ctx, func(context.Context, models.IngestedReview) error { return nil })
	}()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	_, committed := reader.progress()
	assert.Equal(t, []int64{1, 2}, committed)
	assert.Equal(t, 3, dlq.attempts())
	assert.Len(t, dlq.written(), 1)
}

func TestMessageBus_ConsumeReviewsCommitsHandledMessages(t *testing.T) {
	reader := newQueueReader(
		kafka.Message{Offset: 1, Value: []byte(validReview)},
		kafka.Message{Offset: 2, Value: []byte("garbage")},
	)
	dlq := &recordingWriter{}
	bus := testBus(t, reader, &recordingWriter{}, dlq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int
	done := make(chan error, 1)
	go func() {
		done <- bus.ConsumeReviews(ctx, func(context.Context, models.IngestedReview) error {
			handled++
			return nil
		})
	}()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 1, handled)
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Len(t, dlq.written(), 1)
	assert.Equal(t, int64(3), bus.GetMetrics()["messages_read"])
}

func TestMessageBus_PingWithoutBrokers(t *testing.T) {
	bus := testBus(t, newQueueReader(), &recordingWriter{}, &recordingWriter{})
	assert.Error(t, bus.Ping(context.Background()))
	assert.Equal(t, int64(3), bus.GetMetrics()["messages_read"])
}
