// Package challenge provides single-slot challenge storage for WebAuthn
// ceremonies.
//
// # Semantics
//
// Each user holds at most one pending ceremony: a second Put overwrites the
// first, and TakeAndDelete consumes the slot so a challenge can never be
// redeemed twice. Entries expire on their own after the ceremony TTL.
//
// # Implementations
//
// [RedisStore] keeps slots in Redis with native TTLs and is safe behind a
// load balancer. [MemoryStore] keeps slots in a process-local map with a
// periodic sweeper; it is intended for tests and single-instance
// deployments and does NOT work across horizontally scaled replicas.
//
// # What this package must NOT do
//
//   - Interpret challenge bytes — they are opaque ceremony state.
//   - Import warden or any of its other sub-packages.
package challenge
