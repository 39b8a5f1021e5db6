// Package jwt signs and verifies the access and refresh tokens of the account
// core. Access tokens are stateless; refresh tokens carry a unique jti and are
// only honoured while they match the single value stored on the account.
package jwt
