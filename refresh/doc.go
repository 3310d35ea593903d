// Package refresh stores opaque, single-use refresh tokens in Redis.
//
// # Token format
//
// A token is 32 random bytes, base64url without padding. Nothing is encoded
// inside it: validity is decided only by a server-side lookup.
//
// # Storage
//
// Records live under rt:{sha256(token)} with a TTL equal to the token
// lifetime, so a store dump never yields usable tokens. A per-user set
// rtu:{userID} indexes live token hashes for bulk revocation.
//
// # Rotation
//
// [Store.Consume] deletes the record with GETDEL, so two concurrent
// consumers of the same value observe exactly one success. The caller
// issues the successor only after a successful consume.
package refresh
