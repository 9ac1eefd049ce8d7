package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestNewFailoverWriterSettings(t *testing.T) {
	w := newFailoverWriter([]string{"localhost:9092"}, "crewboard-test")
	defer w.Close()

	if w.RequiredAcks != kafka.RequireAll {
		t.Fatalf("expected RequireAll acks, got %v", w.RequiredAcks)
	}
	if _, ok := w.Balancer.(*kafka.LeastBytes); !ok {
		t.Fatalf("expected LeastBytes balancer, got %T", w.Balancer)
	}
	transport, ok := w.Transport.(*kafka.Transport)
	if !ok {
		t.Fatalf("expected kafka transport, got %T", w.Transport)
	}
	if transport.ClientID != "crewboard-test" {
		t.Fatalf("unexpected client id %q", transport.ClientID)
	}
}

func TestRetryHeadersRoundTrip(t *testing.T) {
	retryAt := time.Now().Add(20 * time.Second).Truncate(time.Millisecond)
	headers := appendHeaders(nil,
		kafka.Header{Key: headerRetryCount, Value: []byte("2")},
		kafka.Header{Key: headerRetryAt, Value: []byte(retryAt.Format(time.RFC3339Nano))},
	)
	msg := kafka.Message{Headers: headers}

	if got := retryAttempt(msg); got != 2 {
		t.Fatalf("expected retry attempt 2, got %d", got)
	}
	if got := retryTime(msg); !got.Equal(retryAt) {
		t.Fatalf("expected retry time %v, got %v", retryAt, got)
	}
}

func TestRetryHeadersAbsent(t *testing.T) {
	msg := kafka.Message{}
	if got := retryAttempt(msg); got != 0 {
		t.Fatalf("expected zero attempts, got %d", got)
	}
	if got := retryTime(msg); !got.IsZero() {
		t.Fatalf("expected zero retry time, got %v", got)
	}
}

func TestCalculateBackoffDoubles(t *testing.T) {
	cases := map[int]time.Duration{
		0: 0,
		1: 10 * time.Second,
		2: 20 * time.Second,
		3: 40 * time.Second,
	}
	for attempt, want := range cases {
		if got := calculateBackoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	value, err := json.Marshal(Message{
		EventID:   "5d1c2b3a",
		EventType: "order.filled",
		OrderID:   "8f9e0d1c",
		Payload:   json.RawMessage(`{"required":3}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	event, err := decodeMessage(kafka.Message{Value: value})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.EventType != "order.filled" || event.OrderID != "8f9e0d1c" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := decodeMessage(kafka.Message{Value: []byte("not json")}); err == nil {
		t.Fatal("expected decode error for malformed value")
	}
}
