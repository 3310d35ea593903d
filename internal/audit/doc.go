// Package audit relays security events from the engine to a Sink without
// blocking the request that produced them.
//
// [Dispatcher] buffers events and forwards them on one goroutine; when
// DropIfFull is set a full buffer drops the event and bumps a counter
// instead of applying backpressure. Sinks: channel, JSON lines, zerolog,
// no-op.
//
// The package never decides which events to emit. That belongs to the
// engine and the flow functions.
package audit
