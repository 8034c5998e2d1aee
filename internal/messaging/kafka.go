package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/config"
	"github.com/temcen/venuerec/internal/validation"
	"github.com/temcen/venuerec/pkg/models"
)

// ReviewHandler absorbs one validated crawler review.
type ReviewHandler func(ctx context.Context, review models.IngestedReview) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// MessageBus publishes rating events and consumes the review-ingestion topic. Reviews that fail
// schema validation, or keep failing in the handler, are forwarded to the dead-letter topic.
type MessageBus struct {
	events    messageWriter
	reviews   messageReader
	dlq       messageWriter
	validator *validation.SchemaValidator
	logger    *logrus.Logger

	brokers     []string
	reviewTopic string
	eventTopic  string
	maxRetries  int
	baseDelay   time.Duration
}

func NewMessageBus(cfg *config.Config, validator *validation.SchemaValidator, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka.brokers not configured")
	}

	events := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.RatingEvents,
		Balancer:     &kafka.Hash{}, // keyed by user id so a user's events stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reviews := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topics.ReviewIngestion,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.ReviewDLQ,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	mb := newMessageBus(events, reviews, dlq, validator, logger, cfg.Kafka.Topics.ReviewIngestion,
		cfg.Kafka.Topics.RatingEvents, cfg.Kafka.MaxRetries)
	mb.brokers = cfg.Kafka.Brokers
	return mb, nil
}

func newMessageBus(events messageWriter, reviews messageReader, dlq messageWriter, validator *validation.SchemaValidator,
	logger *logrus.Logger, reviewTopic, eventTopic string, maxRetries int) *MessageBus {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &MessageBus{
		events:      events,
		reviews:     reviews,
		dlq:         dlq,
		validator:   validator,
		logger:      logger,
		reviewTopic: reviewTopic,
		eventTopic:  eventTopic,
		maxRetries:  maxRetries,
		baseDelay:   time.Second,
	}
}

func (mb *MessageBus) PublishRatingEvent(ctx context.Context, event models.RatingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal rating event: %w", err)
	}
	if result := mb.validator.ValidateRatingEvent(payload); !result.Valid {
		return fmt.Errorf("rating event rejected: %w", result.Err())
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.UserID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.events.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write rating event to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"user_id":  event.UserID,
		"place_id": event.PlaceID,
		"topic":    mb.eventTopic,
	}).Debug("Rating event published")
	return nil
}

// ConsumeReviews blocks until ctx is cancelled. Offsets are committed only once a message has
// been handled or dead-lettered.
func (mb *MessageBus) ConsumeReviews(ctx context.Context, handler ReviewHandler) error {
	for {
		msg, err := mb.reviews.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(mb.baseDelay):
			}
			continue
		}

		// The next message is not fetched until this one is handled or parked.
		if err := mb.handleMessage(ctx, msg, handler); err != nil {
			return err
		}

		if err := mb.reviews.CommitMessages(ctx, msg); err != nil {
			mb.logger.WithError(err).WithField("offset", msg.Offset).Warn("Failed to commit review offset")
		}
	}
}

// handleMessage returns an error only when ctx ends before the message could be processed or
// parked in the DLQ.
func (mb *MessageBus) handleMessage(ctx context.Context, msg kafka.Message, handler ReviewHandler) error {
	if result := mb.validator.ValidateIngestedReview(msg.Value); !result.Valid {
		return mb.parkMessage(ctx, msg, 0, result.Err())
	}

	var review models.IngestedReview
	if err := json.Unmarshal(msg.Value, &review); err != nil {
		return mb.parkMessage(ctx, msg, 0, err)
	}

	attempts, err := mb.processWithRetry(ctx, review, handler)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return mb.parkMessage(ctx, msg, attempts, err)
}

// parkMessage retries the DLQ write with capped exponential backoff until it succeeds or ctx ends.
func (mb *MessageBus) parkMessage(ctx context.Context, msg kafka.Message, attempts int, cause error) error {
	delay := mb.baseDelay
	for {
		err := mb.sendToDLQ(ctx, msg, attempts, cause)
		if err == nil {
			return nil
		}
		mb.logger.WithError(err).WithFields(logrus.Fields{
			"offset": msg.Offset,
			"delay":  delay,
		}).Error("Failed to dead-letter review message")

		select {
		case <-ctx.Done():
			return fmt.Errorf("review message at offset %d left unresolved: %w", msg.Offset, errors.Join(ctx.Err(), err))
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDLQDelay)
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, review models.IngestedReview, handler ReviewHandler) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"tripadvisor_username": review.TripadvisorUsername,
				"attempt":              attempt,
				"delay":                delay,
			}).Info("Retrying review ingestion")

			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}

		if lastErr = handler(ctx, review); lastErr == nil {
			return attempt + 1, nil
		}
		mb.logger.WithError(lastErr).WithFields(logrus.Fields{
			"tripadvisor_username": review.TripadvisorUsername,
			"place":                review.Place.TripadvisorID,
			"attempt":              attempt,
		}).Warn("Review ingestion failed")
	}

	return mb.maxRetries + 1, fmt.Errorf("max retries exceeded: %w", lastErr)
}

const maxDLQDelay = 30 * time.Second

type dlqMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error"`
	Attempts        int             `json:"attempts"`
	DLQTimestamp    time.Time       `json:"dlq_timestamp"`
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, msg kafka.Message, attempts int, cause error) error {
	original := json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		quoted, _ := json.Marshal(string(msg.Value))
		original = quoted
	}

	payload, err := json.Marshal(dlqMessage{
		OriginalMessage: original,
		Error:           cause.Error(),
		Attempts:        attempts,
		DLQTimestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	out := kafka.Message{
		Key:   msg.Key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.reviewTopic)},
			{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := mb.dlq.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"offset":   msg.Offset,
		"attempts": attempts,
		"error":    cause.Error(),
	}).Warn("Review message sent to DLQ")
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := mb.reviews.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}

	return nil
}

// Ping dials the first reachable broker.
func (mb *MessageBus) Ping(ctx context.Context) error {
	if len(mb.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, broker := range mb.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// GetMetrics returns review consumer statistics.
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.reviews.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
