package usage

import (
	"context"

	"github.com/jonwraymond/inferops/observe"
)

// LogSink writes usage records as structured log lines.
type LogSink struct {
	logger observe.Logger
}

// NewLogSink creates a sink on logger.
func NewLogSink(logger observe.Logger) *LogSink {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &LogSink{logger: logger}
}

// Write logs rec at info level.
func (s *LogSink) Write(ctx context.Context, rec Record) error {
	s.logger.Info(ctx, "usage recorded",
		observe.F("call_id", rec.CallID),
		observe.F("context", rec.Context),
		observe.F("model", rec.Model),
		observe.F("tokens_used", rec.TokensUsed),
		observe.F("cost_estimate", rec.CostEstimate),
		observe.F("processing_time_ms", rec.ProcessingTime.Milliseconds()),
		observe.F("outcome", string(rec.Outcome)),
	)
	return nil
}
