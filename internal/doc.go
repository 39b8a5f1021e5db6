// Package internal contains helper utilities that are private to charityauth:
// secure random generation and value hashing.
//
// # Sub-packages
//
//   - flows: pure-function orchestrators behind every Engine operation
//   - limiters: kv-backed throttles for registration, code requests and
//     two-factor attempts
//   - posture: the security settings report
//
// # What this package must NOT do
//
//   - Export types that appear in the public charityauth API.
//   - Be imported by any package outside the charityauth module.
package internal
