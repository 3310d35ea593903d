// Package entitlement derives a user's effective subscription tier and
// answers feature and limit questions for it.
//
// The stored tier is historical billing state. What a user may do right now
// is always computed at read time by [Resolver.Resolve], taking status,
// cancellation, trial end and expiry into account. Feature and limit
// lookups go through an immutable, versioned [Table] built once at startup.
package entitlement
