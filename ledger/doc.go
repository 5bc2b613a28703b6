// Package ledger provides Redis-backed refresh-token state with compact binary
// encoding for authentication hot paths.
//
// # Record model
//
// Every refresh token is recorded under the SHA-256 hash of its secret; the
// secret itself is never stored. Records carry two state bits, used and
// revoked, and are kept until natural TTL expiry even after use. Keeping
// spent records is what makes replay of an already-used token observable.
//
// # Families
//
// Tokens minted by one login and all of its rotations share a family ID.
// Secondary Redis sets index records per user and per family so a whole
// rotation chain can be revoked in one atomic script call.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Token] model.
// It does NOT decide what reuse means, issue replacements, or touch user
// accounts — those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import warden, jwt, or password (no upward imports).
//   - Delete a used or revoked record before its TTL expires.
//   - Store raw refresh secrets in [Token] fields.
package ledger
