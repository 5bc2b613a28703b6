// Package internal contains helper utilities that are intentionally private to warden,
// including secure random generation and token codec helpers.
//
// # What this package must NOT do
//
//   - Export types that appear in the public warden API.
//   - Be imported by any package outside the warden module.
package internal
