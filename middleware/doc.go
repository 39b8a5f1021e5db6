// Package middleware adapts charityauth.Engine to net/http.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores the result in the
//     request context.
//   - [RequireRoles] additionally demands one of a set of roles.
//   - [RequireAdmin] is RequireRoles for the verification reviewers.
//   - [ClientContext] copies the caller's IP and User-Agent into the context
//     so fraud scoring, throttling and audit records see them.
//
// Token checks are stateless. Handlers that need the current account status
// load the account themselves.
package middleware
