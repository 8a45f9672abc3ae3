package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStreamSink_Write(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	sink := NewRedisStreamSink(client, RedisStreamSinkConfig{})

	want := Record{
		CallID:         NewCallID(),
		Context:        "reviews",
		Model:          "gpt-4o-mini",
		TokensUsed:     512,
		CostEstimate:   0.000153,
		ProcessingTime: 1200 * time.Millisecond,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Outcome:        OutcomeSuccess,
	}
	if err := sink.Write(ctx, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	msgs, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d stream entries, want 1", len(msgs))
	}

	got, err := ParseStreamRecord(msgs[0])
	if err != nil {
		t.Fatalf("ParseStreamRecord() error = %v", err)
	}
	if got.CallID != want.CallID || got.TokensUsed != want.TokensUsed ||
		got.CostEstimate != want.CostEstimate || got.ProcessingTime != want.ProcessingTime ||
		!got.Timestamp.Equal(want.Timestamp) || got.Outcome != want.Outcome {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestRedisStreamSink_CustomStream(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	sink := NewRedisStreamSink(client, RedisStreamSinkConfig{Stream: "test:usage", MaxLen: 5})

	for i := 0; i < 3; i++ {
		if err := sink.Write(ctx, Record{CallID: NewCallID(), Timestamp: time.Now()}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	n, err := client.XLen(ctx, sink.Stream()).Result()
	if err != nil {
		t.Fatalf("XLen() error = %v", err)
	}
	if n != 3 {
		t.Errorf("XLen = %d, want 3", n)
	}
}

func TestRedisStreamSink_Unavailable(t *testing.T) {
	mr, client := setupMiniredis(t)
	sink := NewRedisStreamSink(client, RedisStreamSinkConfig{})
	mr.Close()

	err := sink.Write(context.Background(), Record{CallID: NewCallID()})
	if !errors.Is(err, ErrSinkUnavailable) {
		t.Errorf("Write() error = %v, want ErrSinkUnavailable", err)
	}
}

func TestParseStreamRecord_Malformed(t *testing.T) {
	_, err := ParseStreamRecord(redis.XMessage{Values: map[string]any{"tokens_used": "abc"}})
	if err == nil {
		t.Error("expected error for malformed entry")
	}
}
