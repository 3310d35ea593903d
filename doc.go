// Package linkAuth is the authentication, session and entitlement engine of
// a link-in-bio service: signup, password login, email and TOTP second
// factors, rotating refresh tokens, role permissions and tier gating.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// linkAuth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenPair, Identity, Entitlement). Flow orchestration,
// challenge storage, rate limiting and audit dispatch live under internal/
// and are never exported.
//
// Users and subscriptions are persisted through a [store.Store]; tokens,
// challenges and rate counters live in Redis.
//
// # Performance contract
//
// ValidateAccess is the hot path. It verifies the signature and claims only
// and makes no Redis or store round-trip. Tier and permissions in the token
// are refreshed on every Refresh.
package linkAuth
