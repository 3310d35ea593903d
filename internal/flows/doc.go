// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunVerifyTwoFactor, RunRefresh, etc.) accepts
// a typed dependency struct and returns results without side-effects beyond
// those dependencies. The Engine type stays thin and every branch can be
// driven with fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the user repository, challenge store,
// refresh store, JWT manager, rate limiter, audit dispatcher and metrics.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import linkAuth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
