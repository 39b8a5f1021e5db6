// Package limiters provides the fixed-window throttles that sit in front of
// sign-up, one-time code requests and second-factor attempts.
//
// # Limiters
//
//   - [RegistrationLimiter]: per-identifier and per-IP throttle for sign-ups.
//   - [OTPRequestLimiter]: per-identifier and per-IP throttle for code requests.
//   - [TwoFactorLimiter]: per-account failure budget for TOTP and backup codes.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Counters live in a kv.Store so Redis and in-process deployments share one
// implementation. Each limiter owns its key namespace and error types.
//
// # What this package must NOT do
//
//   - Import charityauth or any sibling internal package.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
