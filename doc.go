// Package warden provides an embeddable identity engine with JWT access tokens,
// rotating opaque refresh tokens, a Redis-backed session ledger, WebAuthn
// passkeys, and OAuth identity linking.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// warden is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (User, TokenPair, SessionInfo, etc.). Token encoding, session bookkeeping,
// hashing, and provider plumbing live in the sub-packages (ledger, jwt, password,
// challenge, oauth) and are wired together by the builder. Persistence of user
// records stays on the host side behind [UserStore]; memstore ships a reference
// implementation for tests and demos.
//
// # What this package must NOT do
//
//   - Own user persistence. Everything durable about a user goes through the
//     injected [UserStore]; the engine never sees the backing database.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Deliver tokens over anything but the injected [Mailer]. Verification and
//     reset tokens never appear in operation return values.
//
// # Performance contract
//
// Introspect is the hot path. It verifies the access token signature locally and
// must complete without Redis round-trips. Login, Refresh, and Logout each cost a
// small fixed number of Redis round-trips, enforced by the budget test and listed
// in docs/tokens.md; the audit trail and mail delivery are asynchronous and never
// extend an operation's latency.
//
// Docs: docs/engine.md, docs/usage.md
package warden
