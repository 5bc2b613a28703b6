// Package oauth wraps golang.org/x/oauth2 provider configurations behind a
// small registry keyed by provider name.
//
// # Scope
//
// The package owns the authorization-code round trip: building consent URLs,
// exchanging codes for tokens, and fetching a normalized [Profile] from the
// provider's userinfo endpoint. Everything identity-related — matching
// profiles to accounts, linking, unlinking — belongs to the Engine.
//
// Provider-specific quirks live in the per-provider constructors
// ([Google], [GitHub]); the [Manager] itself is provider-agnostic and
// accepts any [Provider] value, so self-hosted or additional identity
// providers plug in without package changes.
//
// # What this package must NOT do
//
//   - Persist tokens or profiles.
//   - Import warden or any of its other sub-packages.
package oauth
