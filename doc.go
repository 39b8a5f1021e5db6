// Package charityauth is the account authentication core of the charity
// platform: registration, credential verification with lockout, device trust,
// one-time passcodes, two-factor authentication, access/refresh token
// rotation, and the identity verification review workflow.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// charityauth is the public surface. It exposes [Engine], [Builder], [Config],
// the [AccountStore] contract and value types ([Account], [LoginOutcome],
// [TokenPair]). Flow orchestration lives under internal/flows as pure
// functions over injected closures; leaf concerns live in their own packages:
//
//   - password: credential hashing and strength policy
//   - jwt: access and refresh token signing
//   - kv: the TTL key-value store behind OTP codes and device elevations
//   - otp: code issuance and attempt-bounded verification
//   - twofactor: TOTP and backup codes
//   - device: fingerprint hashing and trusted-device sets
//   - lockout: failed-login state machine and anti-enumeration delay
//   - fraud: registration risk scoring
//
// # What this package must NOT do
//
//   - Persist plaintext passwords, OTP codes, backup codes or device ids.
//   - Return different errors for an unknown identifier and a wrong password.
//   - Import any sub-package that re-imports charityauth (no import cycles).
//
// # Outcomes
//
// Login-like operations return a [LoginOutcome]. Exactly one of tokens issued,
// two-factor required, verification required or device verification required
// holds per successful call. Failures are returned as errors from errors.go.
package charityauth
