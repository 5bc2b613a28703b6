// Package memstore provides a complete in-memory [warden.UserStore] for
// tests, demos, and prototypes.
//
// # Semantics
//
// One mutex guards the whole store, so every method — including the small
// helpers the engine calls on hot paths — is atomic with respect to
// concurrent callers. Users are deep-copied on the way in and out; a caller
// can never mutate stored state through a returned value.
//
// The store enforces the same record invariants a production backend must:
// globally unique emails and identity pairs, [warden.MaxLinkedIdentities]
// and [warden.MaxPasskeys] caps, and the coupled reset of the failed-login
// counter and lockout stamp.
//
// # What this package must NOT do
//
//   - Persist anything — state lives and dies with the process.
//   - Be used across horizontally scaled replicas.
package memstore
