// Package middleware exposes HTTP middleware adapters for bearer-token
// enforcement built on top of warden.Engine introspection.
//
// # Guards
//
//   - [Guard] rejects requests without a verifiable access token.
//   - [RequireAdmin] additionally rejects non-admin subjects with 403.
//
// Each guard reads the Authorization header, calls Engine.Introspect, and
// injects the introspection result into the request context, where handlers
// retrieve it with [IntrospectionFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; all decisions are delegated to
// Engine.Introspect.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond what the introspection result
//     carries.
package middleware
