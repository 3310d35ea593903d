// Package internal holds helpers private to linkAuth: random identifiers,
// opaque tokens and one-time codes.
//
// # Sub-packages
//
//   - accounts — user records, uniqueness indexes and backup-code consumption
//   - appconfig — server configuration loading
//   - audit — async event dispatch
//   - flows — flow functions behind every Engine operation
//   - logger — zerolog construction
//   - otp — RFC 6238 codes and provisioning URIs
//   - rate — Redis fixed-window counters
//   - secretbox — AES-GCM sealing of secrets at rest
//   - stores — Redis two-factor challenge sessions
package internal
