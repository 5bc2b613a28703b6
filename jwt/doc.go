// Package jwt manages signed-token issuance and verification using configured signing keys
// and strict validation semantics suitable for low-latency authentication paths.
//
// Two token families share the same signing material: short-lived access tokens
// ([AccessClaims]) and single-use purpose tokens ([PurposeClaims]) for email
// verification and password reset.
package jwt
