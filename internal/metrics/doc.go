// Package metrics provides lock-free counters and a latency histogram for
// the auth engine.
//
// Counters live in cache-line-padded uint64 slots incremented with
// sync/atomic. The validate-latency histogram uses 8 fixed buckets
// (≤5ms … +Inf). The write path does not allocate.
//
// Export (Prometheus text, OpenTelemetry) lives in metrics/export and reads
// Snapshot values through the root Engine.
package metrics
