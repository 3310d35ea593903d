// Package otel publishes engine metrics as OpenTelemetry observable
// instruments. The caller owns the MeterProvider and its readers.
package otel
