// Package flows contains pure-function orchestrators for the Engine's
// authentication use cases.
//
// Each flow function (RunRegister, RunLogin, RunIssueTokens, RunRefresh,
// RunChangePassword, RunReview) accepts a typed dependency struct and returns
// results without side-effects beyond those dependencies. This keeps the
// Engine type thin and lets the ordering of checks be tested with plain
// closures.
//
// # Architecture boundaries
//
// Flows coordinate the account store, hasher, token manager, OTP channel,
// lockout guard, audit dispatcher and metrics. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import charityauth (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency closures.
package flows
