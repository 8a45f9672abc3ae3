package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream RedisStreamSink appends to.
const DefaultStream = "inferops:usage"

// RedisStreamSinkConfig configures a RedisStreamSink.
type RedisStreamSinkConfig struct {
	// Stream is the stream key.
	// Default: DefaultStream
	Stream string

	// MaxLen caps the stream length with approximate trimming.
	// Default: 100000
	MaxLen int64
}

// RedisStreamSink appends usage records to a capped Redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a stream sink on client.
func NewRedisStreamSink(client *redis.Client, cfg RedisStreamSinkConfig) *RedisStreamSink {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 100000
	}
	return &RedisStreamSink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Stream returns the stream key.
func (s *RedisStreamSink) Stream() string {
	return s.stream
}

// Write appends rec as one stream entry.
func (s *RedisStreamSink) Write(ctx context.Context, rec Record) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"call_id":            rec.CallID,
			"context":            rec.Context,
			"model":              rec.Model,
			"tokens_used":        rec.TokensUsed,
			"cost_estimate":      strconv.FormatFloat(rec.CostEstimate, 'f', -1, 64),
			"processing_time_ms": rec.ProcessingTime.Milliseconds(),
			"timestamp":          rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"outcome":            string(rec.Outcome),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: xadd: %w", ErrSinkUnavailable, err)
	}
	return nil
}

// ParseStreamRecord converts a stream entry written by RedisStreamSink back
// into a Record.
func ParseStreamRecord(msg redis.XMessage) (Record, error) {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}

	tokens, err := strconv.ParseInt(str("tokens_used"), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("usage: tokens_used: %w", err)
	}
	cost, err := strconv.ParseFloat(str("cost_estimate"), 64)
	if err != nil {
		return Record{}, fmt.Errorf("usage: cost_estimate: %w", err)
	}
	ms, err := strconv.ParseInt(str("processing_time_ms"), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("usage: processing_time_ms: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return Record{}, fmt.Errorf("usage: timestamp: %w", err)
	}

	return Record{
		CallID:         str("call_id"),
		Context:        str("context"),
		Model:          str("model"),
		TokensUsed:     tokens,
		CostEstimate:   cost,
		ProcessingTime: time.Duration(ms) * time.Millisecond,
		Timestamp:      ts,
		Outcome:        Outcome(str("outcome")),
	}, nil
}
