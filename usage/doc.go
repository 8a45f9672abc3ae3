// Package usage records the cost and outcome of inference calls.
//
// An Accountant accepts Records on a bounded queue and writes them to a Sink
// from a background worker, so recording never blocks or fails the caller.
// Records are append-only. Pricing converts token counts to an estimated
// cost in USD.
//
// Sinks:
//   - SQLSink appends rows to the inference_usage table through gorm.
//   - RedisStreamSink appends entries to a capped Redis stream.
//   - LogSink writes each record as a structured log line.
package usage
