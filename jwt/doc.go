// Package jwt issues and verifies the short-lived access tokens of linkAuth.
//
// An access token carries the user id, role, permission set, company
// memberships and effective subscription tier. Verification is purely
// cryptographic: no store is consulted, so a token stays valid until it
// expires even if the underlying account changes.
package jwt
