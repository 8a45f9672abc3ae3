// Package observe provides observability primitives for inference calls:
// a JSON structured logger, OpenTelemetry tracing and metrics, and a
// middleware that instruments an analyze call with all three.
//
// It is a pure instrumentation library. Exporter setup is the only I/O it
// performs on its own.
package observe
