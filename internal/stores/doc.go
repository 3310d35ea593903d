// Package stores keeps two-factor challenge sessions in Redis.
//
// # Design
//
// A challenge is a versioned binary record with a TTL. Attempt decrements
// and resend bookkeeping use WATCH/MULTI optimistic transactions retried on
// contention, so concurrent failures on one challenge never lose a
// decrement. Challenges for different sessions are independent keys.
//
// The package stores only hashes of email codes. It does not generate
// codes or decide whether a code is correct; that belongs to internal/flows.
package stores
