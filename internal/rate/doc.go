// Package rate implements Redis-backed fixed-window counters keyed by
// (scope, identifier, window start).
//
// # Window semantics
//
// Each check runs INCR and EXPIRE in one MULTI on rl:{scope}:{identifier}:{windowStart}.
// The key expires with its window, so a counter can never be reset by
// anything other than the window closing or an explicit [Limiter.Reset].
// Scopes are independent: exhausting one never affects another.
//
// Redis errors fail closed: callers receive ErrRedisUnavailable and must
// reject the request.
package rate
