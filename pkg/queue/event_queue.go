package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerRetryCount  = "cb-retry-count"
	headerRetryAt     = "cb-retry-at"
	headerOriginTopic = "cb-origin-topic"
	headerDLQError    = "cb-dlq-error"

	defaultRetryLimit  = 3
	defaultBackoffSecs = 10
)

// Message is the wire form of an order event as the outbox relay publishes
// it.
type Message struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	OrderID   string          `json:"order_id"`
	Payload   json.RawMessage `json:"payload"`
}

type Handler func(context.Context, *Message) error

// EventQueue consumes published order events. Failed messages are re-routed
// to the retry topic with an exponential-backoff deadline; messages past the
// retry limit land on the DLQ with the handler error attached.
type EventQueue struct {
	retryWriter  *kafka.Writer
	dlqWriter    *kafka.Writer
	reader       *kafka.Reader
	retryReader  *kafka.Reader
	topic        string
	retryTopic   string
	dlqTopic     string
	maxRetry     int
	messageGroup sync.WaitGroup
}

func NewEventQueueConsumer(brokers []string, clientID, groupID, topic, retryTopic, dlqTopic string) *EventQueue {
	var retryReader *kafka.Reader
	if retryTopic != "" {
		retryReader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   retryTopic,
			Dialer: &kafka.Dialer{
				ClientID: clientID,
			},
		})
	}

	return &EventQueue{
		retryWriter: newFailoverWriter(brokers, clientID),
		dlqWriter:   newFailoverWriter(brokers, clientID),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
			Dialer: &kafka.Dialer{
				ClientID: clientID,
			},
		}),
		retryReader: retryReader,
		topic:       topic,
		retryTopic:  retryTopic,
		dlqTopic:    dlqTopic,
		maxRetry:    defaultRetryLimit,
	}
}

// newFailoverWriter builds a writer for a retry or DLQ hop. No topic is bound
// at construction; publish stamps the destination on each message.
func newFailoverWriter(brokers []string, clientID string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		Transport:    &kafka.Transport{ClientID: clientID},
		RequiredAcks: kafka.RequireAll,
	}
}

func (q *EventQueue) Consume(ctx context.Context, handler Handler) error {
	if q.reader == nil {
		return errors.New("event queue reader is not configured")
	}
	if handler == nil {
		return errors.New("event handler is required")
	}

	messageCh := make(chan queuedMessage, 2)
	errCh := make(chan error, 2)

	q.messageGroup.Add(1)
	go q.consumeReader(ctx, q.reader, messageCh, errCh)

	if q.retryReader != nil && q.retryTopic != "" {
		q.messageGroup.Add(1)
		go q.consumeReader(ctx, q.retryReader, messageCh, errCh)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-messageCh:
			if err := q.handleMessage(ctx, msg, handler); err != nil {
				return err
			}
		}
	}
}

type queuedMessage struct {
	reader  *kafka.Reader
	message kafka.Message
}

func (q *EventQueue) consumeReader(ctx context.Context, reader *kafka.Reader, messageCh chan<- queuedMessage, errCh chan<- error) {
	defer q.messageGroup.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case messageCh <- queuedMessage{reader: reader, message: msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (q *EventQueue) handleMessage(ctx context.Context, msg queuedMessage, handler Handler) error {
	if msg.message.Topic == q.retryTopic {
		if retryAt := retryTime(msg.message); !retryAt.IsZero() {
			delay := time.Until(retryAt)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
	}

	event, err := decodeMessage(msg.message)
	if err != nil {
		return q.handleFailure(ctx, msg, err)
	}

	if err := handler(ctx, event); err != nil {
		if handleErr := q.handleFailure(ctx, msg, err); handleErr != nil {
			return handleErr
		}
	} else if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
		return fmt.Errorf("commit event offset: %w", err)
	}

	return nil
}

func decodeMessage(message kafka.Message) (*Message, error) {
	var event Message
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &event, nil
}

func (q *EventQueue) handleFailure(ctx context.Context, msg queuedMessage, handlerErr error) error {
	retryCount := retryAttempt(msg.message)

	if retryCount < q.maxRetry && q.retryTopic != "" {
		retryAt := time.Now().Add(calculateBackoff(retryCount + 1))
		headers := appendHeaders(msg.message.Headers,
			kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(retryCount + 1))},
			kafka.Header{Key: headerRetryAt, Value: []byte(retryAt.Format(time.RFC3339Nano))},
			kafka.Header{Key: headerOriginTopic, Value: []byte(msg.message.Topic)},
		)
		if err := q.publish(ctx, q.retryWriter, q.retryTopic, msg.message.Key, msg.message.Value, headers); err != nil {
			return err
		}
		if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
			return fmt.Errorf("commit event offset: %w", err)
		}
		return nil
	}

	if q.dlqTopic != "" {
		headers := appendHeaders(msg.message.Headers,
			kafka.Header{Key: headerOriginTopic, Value: []byte(msg.message.Topic)},
			kafka.Header{Key: headerDLQError, Value: []byte(handlerErr.Error())},
		)
		if err := q.publish(ctx, q.dlqWriter, q.dlqTopic, msg.message.Key, msg.message.Value, headers); err != nil {
			return err
		}
		if err := msg.reader.CommitMessages(ctx, msg.message); err != nil {
			return fmt.Errorf("commit event offset: %w", err)
		}
		return nil
	}

	return handlerErr
}

func calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(defaultBackoffSecs) * math.Pow(2, float64(attempt-1))
	return time.Duration(delay) * time.Second
}

func retryAttempt(message kafka.Message) int {
	for _, header := range message.Headers {
		if header.Key == headerRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
			return 0
		}
	}
	return 0
}

func retryTime(message kafka.Message) time.Time {
	for _, header := range message.Headers {
		if header.Key == headerRetryAt {
			parsed, err := time.Parse(time.RFC3339Nano, string(header.Value))
			if err == nil {
				return parsed
			}
			return time.Time{}
		}
	}
	return time.Time{}
}

func appendHeaders(existing []kafka.Header, headers ...kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, 0, len(existing)+len(headers))
	merged = append(merged, existing...)
	merged = append(merged, headers...)
	return merged
}

func (q *EventQueue) publish(ctx context.Context, writer *kafka.Writer, topic string, key, value []byte, headers []kafka.Header) error {
	if writer == nil {
		return errors.New("event queue writer is not configured")
	}
	if topic == "" {
		return errors.New("event queue topic is not configured")
	}

	message := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}
	return writer.WriteMessages(ctx, message)
}

func (q *EventQueue) Close() error {
	q.messageGroup.Wait()
	if q.retryWriter != nil {
		if err := q.retryWriter.Close(); err != nil {
			return err
		}
	}
	if q.dlqWriter != nil {
		if err := q.dlqWriter.Close(); err != nil {
			return err
		}
	}
	if q.reader != nil {
		if err := q.reader.Close(); err != nil {
			return err
		}
	}
	if q.retryReader != nil {
		if err := q.retryReader.Close(); err != nil {
			return err
		}
	}
	return nil
}
