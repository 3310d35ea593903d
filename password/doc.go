// Package password implements credential hashing and verification.
//
// # Output format
//
// New hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported from the previous platform carry a hex PBKDF2-SHA512 hash
// with a separately stored salt. [Verifier] accepts both and reports through
// [Verifier.NeedsUpgrade] when a stored hash should be replaced on the next
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the strength policy. Account
// lookups, rate limiting and audit events belong to the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other linkAuth package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
